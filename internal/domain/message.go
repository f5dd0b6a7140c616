package domain

import "time"

// EncryptionKeyPair is a user's long-term asymmetric pair. The private key is
// wrapped at rest under an identity-derived key. Rotation archives the pair
// rather than deleting it, since archived versions still unwrap in-flight
// ephemeral keys.
type EncryptionKeyPair struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            string    `gorm:"size:64;index:idx_keypair_user_version,unique;not null" json:"user_id"`
	KeyVersion        int       `gorm:"index:idx_keypair_user_version,unique;not null" json:"key_version"`
	PublicKey         []byte    `gorm:"not null" json:"public_key"`
	WrappedPrivateKey []byte    `gorm:"not null" json:"-"`
	WrapNonce         []byte    `gorm:"not null" json:"-"`
	IsActive          bool      `gorm:"index;not null;default:true" json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// EphemeralMessageKey wraps one message's symmetric key for one recipient.
// Single use: consumed on first decrypt, success or failure alike.
type EphemeralMessageKey struct {
	ID                  string    `gorm:"primaryKey;size:64" json:"id"`
	RecipientUserID     string    `gorm:"size:64;index;not null" json:"recipient_user_id"`
	RecipientKeyVersion int       `gorm:"not null" json:"recipient_key_version"`
	WrappedKey          []byte    `gorm:"not null" json:"-"`
	ExpiresAt           time.Time `gorm:"index;not null" json:"expires_at"`
	IsUsed              bool      `gorm:"index;not null;default:false" json:"is_used"`
	CreatedAt           time.Time `json:"created_at"`
}

type EncryptedMessage struct {
	MessageID      string    `gorm:"primaryKey;size:64" json:"message_id"`
	SenderID       string    `gorm:"size:64;index;not null" json:"sender_id"`
	ReceiverID     string    `gorm:"size:64;index;not null" json:"receiver_id"`
	Ciphertext     []byte    `gorm:"not null" json:"-"`
	Nonce          []byte    `gorm:"not null" json:"-"`
	Tag            []byte    `gorm:"not null" json:"-"`
	KeyFingerprint string    `gorm:"size:32;not null" json:"key_fingerprint"`
	EphemeralKeyID string    `gorm:"size:64;index;not null" json:"ephemeral_key_id"`
	IntegrityHash  string    `gorm:"size:64;not null" json:"integrity_hash"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

package models

// Account identifies a blockchain account that owns recovery methods. Rows are created lazily
// the first time a recovery method is stored for the account.
type Account struct {
	BaseModel

	AccountID string `gorm:"size:64;not null;uniqueIndex" json:"accountId"`
}

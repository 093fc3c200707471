package ids

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

func New() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

const (
	letters      = "abcdefghijklmnopqrstuvwxyz"
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

	conversationIDLength = 16
)

// NewConversationID returns a 16-character local conversation id. The panel
// requires the first character to be alphabetic; the remainder is lowercase
// alphanumeric.
func NewConversationID() string {
	buf := make([]byte, 0, conversationIDLength)
	buf = append(buf, letters[randIndex(len(letters))])
	for i := 1; i < conversationIDLength; i++ {
		buf = append(buf, alphanumeric[randIndex(len(alphanumeric))])
	}
	return string(buf)
}

func randIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}
	return int(v.Int64())
}

package middleware

import "github.com/zeebo/blake3"

func hashBytes(data []byte) [32]byte {
	return blake3.Sum256(data)
}

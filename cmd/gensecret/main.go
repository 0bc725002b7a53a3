package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

const SecretKeyBytesLen = 32

// Print ready to use env lines with access and refresh secrets
func main() {
	for _, name := range []string{"ACCESS_SECRET", "REFRESH_SECRET"} {
		b := make([]byte, SecretKeyBytesLen)

		_, err := rand.Read(b)
		if err != nil {
			fmt.Printf("error while generating secret key: %v", err)
			os.Exit(1)
		}

		fmt.Printf("%s=%s\n", name, hex.EncodeToString(b))
	}
}

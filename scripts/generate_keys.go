// +build ignore

// generate_keys.go — утилита для генерации RSA-ключей владельца.
// Запуск: go run scripts/generate_keys.go [каталог]
//
// Публичный ключ (owner_public.pem) кладётся на сервер и указывается
// в AUTH_OWNER_PUBLIC_KEY. Приватный ключ (owner_private.pem) остаётся
// у оператора и на сервер НЕ попадает.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		fmt.Printf("Ошибка генерации ключа: %v\n", err)
		os.Exit(1)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		fmt.Printf("Ошибка кодирования публичного ключа: %v\n", err)
		os.Exit(1)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	privPath := filepath.Join(dir, "owner_private.pem")
	pubPath := filepath.Join(dir, "owner_public.pem")

	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		fmt.Printf("Ошибка записи %s: %v\n", privPath, err)
		os.Exit(1)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		fmt.Printf("Ошибка записи %s: %v\n", pubPath, err)
		os.Exit(1)
	}

	fmt.Printf("Приватный ключ: %s (хранить у оператора)\n", privPath)
	fmt.Printf("Публичный ключ: %s (AUTH_OWNER_PUBLIC_KEY)\n", pubPath)
}

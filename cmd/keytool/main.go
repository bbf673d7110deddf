// Command keytool encrypts a hex private key into the JSON key file that
// winnerbot reads via wallet.encrypted_key_path, or checks that a file
// decrypts.
//
//	keytool -out key.json            # reads the key and password from the terminal
//	keytool -verify -in key.json     # prints the address the file holds
//
// WINNERBOT_WALLET_PRIVATE_KEY and WINNERBOT_WALLET_KEY_PASSWORD replace the
// prompts for non-interactive use.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"

	"github.com/alanyoungcy/winnerbot/internal/crypto"
)

var stdin = bufio.NewReader(os.Stdin)

func main() {
	out := flag.String("out", "key.json", "path of the encrypted key file to write")
	in := flag.String("in", "", "encrypted key file to verify")
	verify := flag.Bool("verify", false, "decrypt -in and print its address")
	flag.Parse()

	var err error
	if *verify {
		err = runVerify(*in)
	} else {
		err = runEncrypt(*out)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func runEncrypt(out string) error {
	if _, err := os.Stat(out); err == nil {
		return fmt.Errorf("%s already exists", out)
	}
	key, err := secret("WINNERBOT_WALLET_PRIVATE_KEY", "Private key (hex): ")
	if err != nil {
		return err
	}
	password, err := secret("WINNERBOT_WALLET_KEY_PASSWORD", "Password: ")
	if err != nil {
		return err
	}
	if os.Getenv("WINNERBOT_WALLET_KEY_PASSWORD") == "" {
		confirm, err := secret("", "Repeat password: ")
		if err != nil {
			return err
		}
		if confirm != password {
			return errors.New("passwords do not match")
		}
	}

	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	pk, err := crypto.DecryptKey(blob, password)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for %s\n", out, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())
	return nil
}

func runVerify(in string) error {
	if in == "" {
		return errors.New("-in is required with -verify")
	}
	password, err := secret("WINNERBOT_WALLET_KEY_PASSWORD", "Password: ")
	if err != nil {
		return err
	}
	pk, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: in, KeyPassword: password})
	if err != nil {
		return err
	}
	fmt.Println(ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())
	return nil
}

// secret reads env when set, otherwise prompts without echo on a terminal
// and falls back to a plain line from stdin.
func secret(env, prompt string) (string, error) {
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return strings.TrimSpace(v), nil
		}
	}
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"deskmate/internal/infra/config"
)

// runEncrypt prints the "enc:" form of a secret under DESKMATE_CONFIG_KEY.
// The value comes from args, or the first line of stdin.
func runEncrypt(args []string, in io.Reader, out io.Writer) error {
	passphrase := os.Getenv("DESKMATE_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("%w: DESKMATE_CONFIG_KEY is not set", errUsage)
	}

	value := strings.Join(args, " ")
	if value == "" {
		sc := bufio.NewScanner(in)
		if sc.Scan() {
			value = strings.TrimSpace(sc.Text())
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read value: %w", err)
		}
	}
	if value == "" {
		return fmt.Errorf("%w: nothing to encrypt", errUsage)
	}

	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "enc:"+enc)
	return nil
}

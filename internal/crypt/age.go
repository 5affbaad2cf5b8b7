package crypt

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

const (
	Extension = ".age"

	// DefaultWorkFactor matches the age CLI.
	DefaultWorkFactor = 18
)

var (
	ErrNoPassphrase = errors.New("no encryption passphrase available")
	ErrWrongKey     = errors.New("archive could not be decrypted with the configured passphrase")
)

var header = []byte("age-encryption.org/v1\n")

type Encryptor struct {
	passphrase string
	workFactor int
}

func NewEncryptor(passphrase string, workFactor int) (*Encryptor, error) {
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}
	if workFactor <= 0 {
		workFactor = DefaultWorkFactor
	}
	return &Encryptor{passphrase: passphrase, workFactor: workFactor}, nil
}

// EncryptFile writes an age-encrypted copy of src to dst and fsyncs it.
func (e *Encryptor) EncryptFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	recipient, err := age.NewScryptRecipient(e.passphrase)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	recipient.SetWorkFactor(e.workFactor)

	w, err := age.Encrypt(out, recipient)
	if err != nil {
		return fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish encryption: %w", err)
	}
	return out.Sync()
}

// Decrypt wraps src in a decrypting reader.
func (e *Encryptor) Decrypt(src io.Reader) (io.Reader, error) {
	identity, err := age.NewScryptIdentity(e.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	identity.SetMaxWorkFactor(22)

	r, err := age.Decrypt(src, identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return nil, ErrWrongKey
		}
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return r, nil
}

// DecryptFile writes the plaintext of src to dst.
func (e *Encryptor) DecryptFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := e.Decrypt(in)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("failed to decrypt %s: %w", src, err)
	}
	return nil
}

// HeaderLen is how many leading bytes HasHeader needs.
var HeaderLen = len(header)

func HasHeader(prefix []byte) bool {
	return bytes.HasPrefix(prefix, header)
}

// IsEncrypted sniffs the age header.
func IsEncrypted(r io.Reader) bool {
	buf := make([]byte, len(header))
	n, _ := io.ReadFull(bufio.NewReader(r), buf)
	return HasHeader(buf[:n])
}

func IsEncryptedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	return IsEncrypted(f)
}

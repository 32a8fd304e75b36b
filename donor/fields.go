package donor

import "strings"

// encrypter applies the cipher field by field and keeps the first error.
type encrypter struct {
	c   Cipher
	err error
}

// random encrypts s with a fresh IV. Empty values are encrypted too.
func (e *encrypter) random(s string) string {
	if e.err != nil {
		return ""
	}
	out, err := e.c.Encrypt(strings.TrimSpace(s))
	e.err = err
	return out
}

// nullable is random but stores nothing for an empty value.
func (e *encrypter) nullable(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return e.random(s)
}

func (e *encrypter) deterministic(s string) string {
	s = strings.TrimSpace(s)
	if e.err != nil || s == "" {
		return ""
	}
	out, err := e.c.EncryptDeterministic(s)
	e.err = err
	return out
}

func (e *encrypter) index(s string) string {
	if e.err != nil || strings.TrimSpace(s) == "" {
		return ""
	}
	out, err := e.c.BlindIndex(s)
	e.err = err
	return out
}

type decrypter struct {
	c   Cipher
	err error
}

func (d *decrypter) random(s string) string {
	if d.err != nil || s == "" {
		return ""
	}
	out, err := d.c.Decrypt(s)
	d.err = err
	return out
}

func (d *decrypter) deterministic(s string) string {
	if d.err != nil || s == "" {
		return ""
	}
	out, err := d.c.DecryptDeterministic(s)
	d.err = err
	return out
}

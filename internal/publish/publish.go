// Package publish implements the repository publisher (§1 "out of
// scope... referenced only by interface"): detach-signing every build
// artifact and hard-linking it, plus its signature, into the destination
// directory, ignoring link-already-exists.
//
// Signing uses github.com/ProtonMail/gopenpgp/v2, the PGP library the
// tsukumogami/tsuku example already pulls into the corpus (there, to
// verify detached signatures when fetching third-party key material;
// here, to produce them).
package publish

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
	"golang.org/x/xerrors"
)

// Signer detach-signs a file's contents and returns the armored
// signature bytes.
type Signer interface {
	DetachSign(data []byte) ([]byte, error)
}

// PGPSigner signs with a single unlocked private key.
type PGPSigner struct {
	key *crypto.Key
}

// NewPGPSigner loads an armored private key (optionally passphrase
// protected) for signing.
func NewPGPSigner(armoredPrivateKey string, passphrase []byte) (*PGPSigner, error) {
	key, err := crypto.NewKeyFromArmored(armoredPrivateKey)
	if err != nil {
		return nil, xerrors.Errorf("loading signing key: %w", err)
	}
	if len(passphrase) > 0 {
		key, err = key.Unlock(passphrase)
		if err != nil {
			return nil, xerrors.Errorf("unlocking signing key: %w", err)
		}
	}
	return &PGPSigner{key: key}, nil
}

func (s *PGPSigner) DetachSign(data []byte) ([]byte, error) {
	keyring, err := crypto.NewKeyRing(s.key)
	if err != nil {
		return nil, err
	}
	msg := crypto.NewPlainMessage(data)
	sig, err := keyring.SignDetached(msg)
	if err != nil {
		return nil, err
	}
	armored, err := sig.GetArmored()
	if err != nil {
		return nil, err
	}
	return []byte(armored), nil
}

// Publisher implements sign_and_copy: sign every artifact in a build
// directory matching Suffixes, then hard-link the artifact and its
// signature into Destdir.
type Publisher struct {
	// Destdir is the destination directory; an empty Destdir disables
	// publishing entirely (an empty destdir disables
	// publishing").
	Destdir  string
	Suffixes []string
	Signer   Signer
}

// Enabled reports whether publishing is configured at all.
func (p *Publisher) Enabled() bool { return p.Destdir != "" }

// SignAndCopy signs and links every matching artifact found directly
// inside buildDir.
func (p *Publisher) SignAndCopy(buildDir string) error {
	if !p.Enabled() {
		return nil
	}

	fis, err := ioutil.ReadDir(buildDir)
	if err != nil {
		return xerrors.Errorf("reading build dir: %w", err)
	}

	for _, fi := range fis {
		if fi.IsDir() {
			continue
		}
		if !hasAnySuffix(fi.Name(), p.Suffixes) {
			continue
		}
		artifact := filepath.Join(buildDir, fi.Name())
		if err := p.signAndLinkOne(artifact); err != nil {
			return xerrors.Errorf("%s: %w", artifact, err)
		}
	}
	return nil
}

func (p *Publisher) signAndLinkOne(artifact string) error {
	data, err := ioutil.ReadFile(artifact)
	if err != nil {
		return err
	}

	sigPath := artifact + ".sig"
	if p.Signer != nil {
		sig, err := p.Signer.DetachSign(data)
		if err != nil {
			return xerrors.Errorf("signing: %w", err)
		}
		if err := ioutil.WriteFile(sigPath, sig, 0644); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(p.Destdir, 0755); err != nil {
		return err
	}

	if err := linkIgnoreExists(artifact, filepath.Join(p.Destdir, filepath.Base(artifact))); err != nil {
		return err
	}
	if p.Signer != nil {
		if err := linkIgnoreExists(sigPath, filepath.Join(p.Destdir, filepath.Base(sigPath))); err != nil {
			return err
		}
	}
	return nil
}

func linkIgnoreExists(oldname, newname string) error {
	if err := os.Link(oldname, newname); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

package signature

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
)

// LoadKeyRing reads an ASCII-armored public keyring from path.
func LoadKeyRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring %s: %w", path, err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("read keyring %s: %w", path, err)
	}
	return keyring, nil
}

// VerifyDetached checks an armored detached signature over the file at
// artifactPath. It returns the primary key fingerprint of the signer.
func VerifyDetached(keyring openpgp.KeyRing, artifactPath string, armoredSig []byte) (string, error) {
	log := logger.Logger()

	f, err := os.Open(artifactPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", artifactPath, err)
	}
	defer f.Close()

	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, f, bytes.NewReader(armoredSig), nil)
	if err != nil {
		return "", fmt.Errorf("signature check for %s failed: %w", artifactPath, err)
	}
	fingerprint := fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint)
	log.Debugf("signature for %s made by %s", artifactPath, fingerprint)
	return fingerprint, nil
}

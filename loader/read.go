package loader

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
)

// pgpArmorHeader marks ASCII-armored PGP content; a .asc file carrying it is
// decrypted, any other .asc file is read as plain text.
const pgpArmorHeader = "-----BEGIN PGP MESSAGE-----"

// readSource reads a ledger source file, transparently decrypting GPG
// content. Files ending in .gpg are always decrypted; files ending in .asc
// are decrypted only when they start with the PGP armor header.
func readSource(path string) ([]byte, error) {
	if strings.HasSuffix(path, ".gpg") {
		return decryptGPG(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}

	if strings.HasSuffix(path, ".asc") && bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(pgpArmorHeader)) {
		return decryptGPG(path)
	}

	return data, nil
}

// decryptGPG pipes the file through the external gpg binary. Stdout is
// captured in full before returning; stderr is folded into the error when
// decryption fails.
func decryptGPG(path string) ([]byte, error) {
	cmd := exec.Command("gpg", "--batch", "--decrypt", path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, &IoError{Path: path, Err: &decryptError{underlying: err, stderr: detail}}
		}
		return nil, &IoError{Path: path, Err: err}
	}

	return stdout.Bytes(), nil
}

// decryptError keeps gpg's stderr next to the process error.
type decryptError struct {
	underlying error
	stderr     string
}

func (e *decryptError) Error() string {
	return e.underlying.Error() + ": " + e.stderr
}

func (e *decryptError) Unwrap() error { return e.underlying }

package codehash

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/exec"

	"stageweaver/internal/sentinel"
)

// FingerprintCommand computes the code fingerprint of an external
// command: the command word, the content hash of its resolved
// executable, and the path and content hash of every declared dependent
// script, in declared order.
//
// A command that cannot be resolved on PATH (or read) contributes its
// literal string only; the eventual execution failure is the user's
// signal. A missing dependent script is an error, since the caller
// explicitly declared it.
func FingerprintCommand(command string, deps []string) ([]byte, error) {
	h := sha256.New()
	writeField(h, []byte(command))

	resolved := command
	if p, err := exec.LookPath(command); err == nil {
		resolved = p
	}
	if digest, err := sentinel.HashFile(resolved); err == nil {
		writeField(h, []byte(digest))
	} else {
		writeField(h, []byte(resolved))
	}

	for _, dep := range deps {
		if _, err := os.Stat(dep); err != nil {
			return nil, fmt.Errorf("dependent script %q: %w", dep, err)
		}
		digest, err := sentinel.HashFile(dep)
		if err != nil {
			return nil, fmt.Errorf("hashing dependent script %q: %w", dep, err)
		}
		writeField(h, []byte(dep))
		writeField(h, []byte(digest))
	}
	return h.Sum(nil), nil
}

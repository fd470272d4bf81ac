package models

import (
	"fmt"

	"github.com/dmitrijs2005/vaultkeeper/internal/common"
)

// Sealer encrypts and decrypts field values with the device key.
// *cryptox.Session implements it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Seal encrypts it.Payload into it.Entry.Sealed and syncs the kind.
func Seal(s Sealer, it *Item) error {
	if it.Payload == nil {
		return fmt.Errorf("%w: item %s has no payload", common.ErrInvalidArgument, it.ID)
	}
	raw, err := MarshalPayload(it.Payload)
	if err != nil {
		return err
	}
	sealed, err := s.Encrypt(string(raw))
	if err != nil {
		return err
	}
	it.Kind = it.Payload.Kind()
	it.Sealed = sealed
	return nil
}

// Open decrypts e into an Item.
func Open(s Sealer, e Entry) (*Item, error) {
	raw, err := s.Decrypt(e.Sealed)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	p, err := UnmarshalPayload([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w: %v", e.ID, common.ErrDecryption, err)
	}
	if p.Kind() != e.Kind {
		return nil, fmt.Errorf("entry %s: %w: payload kind %s, row kind %s", e.ID, common.ErrDecryption, p.Kind(), e.Kind)
	}
	return &Item{Entry: e, Payload: p}, nil
}

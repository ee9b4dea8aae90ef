// Package venue resolves account credentials into ready adapter instances
// and pools them.
package venue

import (
	"fmt"

	"tradehook/pkg/db"
	"tradehook/pkg/venues/bitflex"
	"tradehook/pkg/venues/common"
	"tradehook/pkg/venues/deriva"
	"tradehook/pkg/venues/fxbroker"
)

// Supported venue type identifiers.
const (
	TypeBitflex  = "bitflex"
	TypeFXBroker = "fxbroker"
	TypeDeriva   = "deriva"
)

// Factory builds a venue adapter from a credential row and its decrypted
// secret. The plaintext secret lives only for the duration of this call and
// inside the constructed client.
type Factory func(cred db.Credential, secret string) (common.Venue, error)

// NewVenue is the default factory. The credential's APIKey column doubles as
// username for fxbroker and account address for deriva.
func NewVenue(cred db.Credential, secret string) (common.Venue, error) {
	switch cred.VenueType {
	case TypeBitflex:
		return bitflex.New(bitflex.Config{
			APIKey:    cred.APIKey,
			APISecret: secret,
			Sandbox:   cred.Sandbox,
		}), nil
	case TypeFXBroker:
		return fxbroker.New(fxbroker.Config{
			Username: cred.APIKey,
			Password: secret,
			AppID:    "tradehook",
			Sandbox:  cred.Sandbox,
		}), nil
	case TypeDeriva:
		return deriva.New(deriva.Config{
			Address:    cred.APIKey,
			SigningKey: secret,
			Sandbox:    cred.Sandbox,
		}), nil
	default:
		return nil, fmt.Errorf("unknown venue type %q", cred.VenueType)
	}
}

package service

import (
	"courier/pkg/models"
)

// Standing is the provider-standing collaborator (billing/profile). It is
// consulted fresh on every provider send; standing can lapse between
// messages independently of thread status, so the answer is never cached
// in the thread record.
type Standing interface {
	MayReply(providerProfileID string) (bool, error)
}

// profileStanding derives standing from the stored provider profile:
// profile active and messaging enabled. Deployments with a billing system
// substitute their own Standing.
type profileStanding struct {
	profiles interface {
		GetProfile(id string) (models.ProviderProfile, error)
	}
}

// NewProfileStanding builds the default Standing backed by the profile
// directory in the store.
func NewProfileStanding(profiles interface {
	GetProfile(id string) (models.ProviderProfile, error)
}) Standing {
	return &profileStanding{profiles: profiles}
}

func (p *profileStanding) MayReply(providerProfileID string) (bool, error) {
	prof, err := p.profiles.GetProfile(providerProfileID)
	if err != nil {
		return false, err
	}
	return prof.Active && prof.MessagingEnabled, nil
}

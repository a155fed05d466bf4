package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/fieldlink-core/internal/auth"
	"github.com/nerrad567/fieldlink-core/internal/device"
)

// TokenVerifier turns an access token into a caller identity.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// DeviceGetter loads a device together with its owners.
type DeviceGetter interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Service manages automation rules on behalf of authenticated callers.
// Callers must own the rule's device unless they are admins.
type Service struct {
	repo      Repository
	verifier  TokenVerifier
	devices   DeviceGetter
	defaultTZ string
}

// NewService creates a rule service. defaultTZ applies to rules created
// without a timezone; empty means DefaultTimezone.
func NewService(repo Repository, verifier TokenVerifier, devices DeviceGetter, defaultTZ string) *Service {
	if defaultTZ == "" {
		defaultTZ = DefaultTimezone
	}
	return &Service{repo: repo, verifier: verifier, devices: devices, defaultTZ: defaultTZ}
}

// CreateRule stores a new enabled rule for deviceID.
func (s *Service) CreateRule(ctx context.Context, token, deviceID, onTime, offTime, tz string) (*Rule, error) {
	id, err := s.authorize(ctx, token, deviceID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(tz) == "" {
		tz = s.defaultTZ
	}
	rule := &Rule{
		ID:        GenerateID(),
		DeviceID:  deviceID,
		OnTime:    onTime,
		OffTime:   offTime,
		Timezone:  tz,
		Enabled:   true,
		CreatedBy: id.SubjectID,
	}
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule applies patch to the rule identified by ruleID.
func (s *Service) UpdateRule(ctx context.Context, token, ruleID string, patch RulePatch) (*Rule, error) {
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, token, rule.DeviceID); err != nil {
		return nil, err
	}

	if patch.OnTime != nil {
		rule.OnTime = *patch.OnTime
	}
	if patch.OffTime != nil {
		rule.OffTime = *patch.OffTime
	}
	if patch.Timezone != nil {
		rule.Timezone = *patch.Timezone
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	if err := ValidateRule(rule); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes the rule identified by ruleID.
func (s *Service) DeleteRule(ctx context.Context, token, ruleID string) error {
	rule, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if _, err := s.authorize(ctx, token, rule.DeviceID); err != nil {
		return err
	}
	return s.repo.DeleteRule(ctx, ruleID)
}

// ListRules returns the rules attached to deviceID.
func (s *Service) ListRules(ctx context.Context, deviceID string) ([]Rule, error) {
	return s.repo.ListRules(ctx, deviceID)
}

// authorize verifies token and checks the caller may manage deviceID.
// A missing device is reported as ErrAccessDenied so callers cannot probe
// for device IDs they do not own.
func (s *Service) authorize(ctx context.Context, token, deviceID string) (auth.Identity, error) {
	id, err := s.verifier.Verify(token)
	if err != nil {
		return auth.Identity{}, err
	}

	dev, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return auth.Identity{}, ErrAccessDenied
		}
		return auth.Identity{}, fmt.Errorf("loading device: %w", err)
	}
	if !id.IsAdmin && !dev.HasOwner(id.SubjectID) {
		return auth.Identity{}, ErrAccessDenied
	}
	return id, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/pkg/ntag"
	"gorm.io/gorm"
)

// testDevice is a QR stand-in handed to staff during pilots
type testDevice struct {
	UID   string
	Label string
}

var testDevices = []testDevice{
	{UID: "PROTO_001", Label: "Main Counter"},
	{UID: "PROTO_002", Label: "Bar Area"},
	{UID: "PROTO_003", Label: "Takeout/Delivery"},
	{UID: "PROTO_004", Label: "Manager Device"},
	{UID: "PROTO_005", Label: "Spare"},
}

// Manifest lists the tap URLs of provisioned devices
type Manifest struct {
	BaseURL     string          `json:"base_url"`
	Mode        model.TapMode   `json:"mode"`
	Devices     []ManifestEntry `json:"devices"`
	GeneratedAt time.Time       `json:"generated_at"`
}

type ManifestEntry struct {
	UID   string `json:"uid"`
	Label string `json:"label"`
	URL   string `json:"url"`
}

// seedDevices creates the test devices that do not exist yet and reports how
// many were created
func seedDevices(ctx context.Context, repo *repository.DeviceRepository, devices []testDevice) (int, error) {
	created := 0
	for _, d := range devices {
		_, err := repo.FindByUID(ctx, d.UID)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, fmt.Errorf("failed to look up %s: %w", d.UID, err)
		}

		device := &model.NFCDevice{
			UIDHex:     d.UID,
			DeviceType: model.DeviceTypeQRMock,
			Label:      d.Label,
			Status:     model.DeviceStatusActive,
		}
		if err := repo.Create(ctx, device); err != nil {
			return created, fmt.Errorf("failed to create %s: %w", d.UID, err)
		}
		created++
	}
	return created, nil
}

// revokeDevice takes a lost or compromised tag out of service; taps on it then
// resolve as unknown devices. It reports false when the device was already
// inactive.
func revokeDevice(ctx context.Context, repo *repository.DeviceRepository, uid string) (bool, error) {
	device, err := repo.FindByUID(ctx, uid)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", uid, err)
	}
	if !device.IsActive() {
		return false, nil
	}
	if err := repo.UpdateStatus(ctx, uid, model.DeviceStatusRevoked); err != nil {
		return false, fmt.Errorf("failed to revoke %s: %w", uid, err)
	}
	return true, nil
}

// buildManifest renders the dev-mode URL of every device. Dev URLs are static
// and only work where dev mode is enabled.
func buildManifest(baseURL string, devices []testDevice, now time.Time) Manifest {
	m := Manifest{BaseURL: baseURL, Mode: model.TapModeDev, GeneratedAt: now}
	for _, d := range devices {
		m.Devices = append(m.Devices, ManifestEntry{
			UID:   d.UID,
			Label: d.Label,
			URL:   baseURL + "?uid=" + url.QueryEscape(d.UID) + "&mode=dev",
		})
	}
	return m
}

// signedURL mints the URL a genuine tag with uid would emit at counter
func signedURL(baseURL, masterKeyHex, uid string, counter uint32) (string, error) {
	verifier, err := ntag.NewVerifier(masterKeyHex)
	if err != nil {
		return "", err
	}
	mac, err := verifier.Sign(uid, counter)
	if err != nil {
		return "", err
	}
	return baseURL + "?uid=" + url.QueryEscape(uid) +
		"&counter=" + strconv.FormatUint(uint64(counter), 10) +
		"&cmac=" + mac, nil
}

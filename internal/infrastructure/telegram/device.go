package telegram

import (
	"math/rand"

	"github.com/gotd/td/telegram"
)

// DeviceKind selects the device identity family used for a login.
type DeviceKind int

const (
	DeviceAndroid DeviceKind = iota
	DeviceIOS
	DeviceWindows
)

// DeviceProfile is a device identity presented to Telegram during login.
type DeviceProfile struct {
	Kind          DeviceKind
	DeviceModel   string
	SystemVersion string
	AppVersion    string
}

// Config returns the gotd device configuration for the profile.
func (p DeviceProfile) Config() telegram.DeviceConfig {
	return telegram.DeviceConfig{
		DeviceModel:   p.DeviceModel,
		SystemVersion: p.SystemVersion,
		AppVersion:    p.AppVersion,
	}
}

var androidDevices = []DeviceProfile{
	{DeviceAndroid, "Samsung Galaxy S23", "Android 13", "9.6.0 (12345) official"},
	{DeviceAndroid, "Google Pixel 7 Pro", "Android 13", "9.5.0 (12345) official"},
	{DeviceAndroid, "Xiaomi 13 Pro", "Android 13", "9.4.0 (12345) official"},
	{DeviceAndroid, "OnePlus 11", "Android 13", "9.3.0 (12345) official"},
}

var iosDevices = []DeviceProfile{
	{DeviceIOS, "iPhone 14 Pro", "iOS 16.5", "9.6.0 (12345) official"},
	{DeviceIOS, "iPhone 13", "iOS 15.7", "9.5.0 (12345) official"},
	{DeviceIOS, "iPhone 12 Pro Max", "iOS 15.4", "9.4.0 (12345) official"},
	{DeviceIOS, "iPhone SE (3rd Gen)", "iOS 16.0", "9.3.0 (12345) official"},
}

var windowsDevices = []DeviceProfile{
	{DeviceWindows, "Windows 10 Desktop", "Windows 10", "4.14.15 (12345) official"},
	{DeviceWindows, "Windows 11 PC", "Windows 11", "4.14.15 (12345) official"},
	{DeviceWindows, "Surface Pro 9", "Windows 11", "4.14.15 (12345) official"},
	{DeviceWindows, "Dell OptiPlex", "Windows 10", "4.14.15 (12345) official"},
}

// DevicePicker picks device profiles according to the configured policy.
type DevicePicker struct {
	policy string // android, ios, windows or random
}

// NewDevicePicker creates a picker for the given policy.
func NewDevicePicker(policy string) *DevicePicker {
	return &DevicePicker{policy: policy}
}

// Pick returns a randomized device profile for the configured policy.
func (d *DevicePicker) Pick() DeviceProfile {
	switch d.policy {
	case "android":
		return pick(androidDevices)
	case "ios":
		return pick(iosDevices)
	case "windows":
		return pick(windowsDevices)
	default:
		all := [][]DeviceProfile{androidDevices, iosDevices, windowsDevices}
		return pick(all[rand.Intn(len(all))])
	}
}

func pick(profiles []DeviceProfile) DeviceProfile {
	return profiles[rand.Intn(len(profiles))]
}

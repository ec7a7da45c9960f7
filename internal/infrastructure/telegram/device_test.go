package telegram

import "testing"

func TestDevicePickerHonorsPolicy(t *testing.T) {
	tests := []struct {
		policy string
		want   DeviceKind
	}{
		{"android", DeviceAndroid},
		{"ios", DeviceIOS},
		{"windows", DeviceWindows},
	}

	for _, tt := range tests {
		picker := NewDevicePicker(tt.policy)
		for i := 0; i < 20; i++ {
			p := picker.Pick()
			if p.Kind != tt.want {
				t.Errorf("policy %s: picked kind %d", tt.policy, p.Kind)
			}
			if p.DeviceModel == "" || p.SystemVersion == "" || p.AppVersion == "" {
				t.Errorf("policy %s: incomplete profile %+v", tt.policy, p)
			}
		}
	}
}

func TestDevicePickerRandomCoversAllKinds(t *testing.T) {
	picker := NewDevicePicker("random")

	seen := make(map[DeviceKind]bool)
	for i := 0; i < 200; i++ {
		seen[picker.Pick().Kind] = true
	}

	for _, kind := range []DeviceKind{DeviceAndroid, DeviceIOS, DeviceWindows} {
		if !seen[kind] {
			t.Errorf("random policy never picked kind %d", kind)
		}
	}
}

func TestDeviceProfileConfig(t *testing.T) {
	p := DeviceProfile{
		Kind:          DeviceAndroid,
		DeviceModel:   "Samsung Galaxy S23",
		SystemVersion: "Android 13",
		AppVersion:    "9.6.0 (12345) official",
	}

	cfg := p.Config()
	if cfg.DeviceModel != p.DeviceModel || cfg.SystemVersion != p.SystemVersion || cfg.AppVersion != p.AppVersion {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

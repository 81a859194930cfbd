// discovery_test.go
package roboarm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.viam.com/rdk/logging"
)

func TestFilterCandidatePorts(t *testing.T) {
	tests := []struct {
		name     string
		ports    []string
		expected []string
	}{
		{
			name:     "Linux USB ports",
			ports:    []string{"/dev/ttyUSB0", "/dev/ttyS0", "/dev/ttyACM0", "/dev/null"},
			expected: []string{"/dev/ttyUSB0", "/dev/ttyACM0"},
		},
		{
			name:     "macOS USB ports",
			ports:    []string{"/dev/tty.usbmodem123", "/dev/tty.Bluetooth", "/dev/tty.usbserial-AB"},
			expected: []string{"/dev/tty.usbmodem123", "/dev/tty.usbserial-AB"},
		},
		{
			name:     "Windows COM ports",
			ports:    []string{"COM3", "COM10", "LPT1", "PRN"},
			expected: []string{"COM3", "COM10"},
		},
		{
			name:     "Empty list",
			ports:    []string{},
			expected: []string{},
		},
		{
			name:     "No matching ports",
			ports:    []string{"/dev/null", "/dev/zero"},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := filterCandidatePorts(tt.ports)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestExtractPortSuffix(t *testing.T) {
	tests := []struct {
		port     string
		expected string
	}{
		{"/dev/ttyUSB0", "ttyUSB0"},
		{"/dev/ttyACM1", "ttyACM1"},
		{"/dev/tty.usbmodem123", "usbmodem123"},
		{"/dev/cu.usbserial-AB", "usbserial-AB"},
		{"COM3", "COM3"},
	}

	for _, tt := range tests {
		t.Run(tt.port, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractPortSuffix(tt.port))
		})
	}
}

func TestFindCalibrationFile(t *testing.T) {
	logger := logging.NewTestLogger(t)

	t.Run("prefers port-specific file", func(t *testing.T) {
		tmpDir := t.TempDir()
		writeFile := func(name string) {
			if err := os.WriteFile(filepath.Join(tmpDir, name), []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		writeFile("ttyUSB0_calibration.json")
		writeFile("ik_arm_calibration.json")

		assert.Equal(t, "ttyUSB0_calibration.json", findCalibrationFile(tmpDir, "ttyUSB0", logger))
	})

	t.Run("falls back to default file", func(t *testing.T) {
		tmpDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(tmpDir, "ik_arm_calibration.json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}

		assert.Equal(t, "ik_arm_calibration.json", findCalibrationFile(tmpDir, "ttyUSB0", logger))
	})

	t.Run("empty when nothing found", func(t *testing.T) {
		assert.Equal(t, "", findCalibrationFile(t.TempDir(), "ttyUSB0", logger))
	})
}

// discovery.go
package roboarm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo"
	"go.bug.st/serial/enumerator"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/discovery"
)

var IkArmDiscoveryModel = resource.NewModel("kvasdopil", "arm", "discovery")

func init() {
	resource.RegisterService(
		discovery.API,
		IkArmDiscoveryModel,
		resource.Registration[discovery.Service, *DiscoveryConfig]{
			Constructor: newIkArmDiscovery,
		})
}

// DiscoveryConfig is the configuration for the discovery service
type DiscoveryConfig struct {
	// Empty for now - could add port filters or baudrate options later
}

// Validate ensures the config is valid
func (cfg *DiscoveryConfig) Validate(path string) ([]string, []string, error) {
	return nil, nil, nil
}

// ikArmDiscovery implements the discovery service
type ikArmDiscovery struct {
	resource.Named
	resource.AlwaysRebuild
	resource.TriviallyCloseable
	logger logging.Logger
}

func newIkArmDiscovery(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (discovery.Service, error) {
	_, err := resource.NativeConfig[*DiscoveryConfig](conf)
	if err != nil {
		return nil, err
	}

	return &ikArmDiscovery{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
	}, nil
}

// DiscoverResources scans serial ports for arm servos and returns
// component configurations for the ports that answer.
func (dis *ikArmDiscovery) DiscoverResources(ctx context.Context, extra map[string]any) ([]resource.Config, error) {
	dis.logger.Info("Starting ik-arm discovery")

	allPorts := enumerateSerialPorts()
	dis.logger.Debugf("Found %d total serial ports", len(allPorts))

	candidates := filterCandidatePorts(allPorts)
	dis.logger.Debugf("Filtered to %d candidate ports", len(candidates))

	var allConfigs []resource.Config
	for _, portPath := range candidates {
		select {
		case <-ctx.Done():
			dis.logger.Info("Discovery cancelled")
			return allConfigs, ctx.Err()
		default:
		}

		portConfigs := dis.discoverPort(ctx, portPath)
		allConfigs = append(allConfigs, portConfigs...)
	}

	if len(allConfigs) == 0 {
		dis.logger.Info("No arms discovered")
	} else {
		dis.logger.Infof("Discovered %d component configurations", len(allConfigs))
	}

	return allConfigs, nil
}

// discoverPort validates a single port and generates a component
// configuration when the base servo answers.
func (dis *ikArmDiscovery) discoverPort(ctx context.Context, portPath string) []resource.Config {
	portSuffix := extractPortSuffix(portPath)
	dis.logger.Debugf("Checking port %s", portPath)

	if !dis.pingBaseServo(ctx, portPath) {
		dis.logger.Debugf("No arm servos detected on %s", portPath)
		return nil
	}

	dis.logger.Infof("Discovered arm on %s", portPath)

	moduleDataDir := os.Getenv("VIAM_MODULE_DATA")
	if moduleDataDir == "" {
		moduleDataDir = "/tmp"
	}
	calibrationFile := findCalibrationFile(moduleDataDir, portSuffix, dis.logger)

	attrs := map[string]interface{}{
		"port": portPath,
	}
	if calibrationFile != "" {
		attrs["calibration_file"] = calibrationFile
	}

	return []resource.Config{{
		Name:       "ik-arm-" + portSuffix,
		API:        arm.API,
		Model:      IkArmModel,
		Attributes: attrs,
	}}
}

// pingBaseServo attempts to ping servo 1 on the given port.
func (dis *ikArmDiscovery) pingBaseServo(ctx context.Context, portPath string) bool {
	busConfig := feetech.BusConfig{
		Port:     portPath,
		Baudrate: 1000000,
		Protocol: feetech.ProtocolV0,
		Timeout:  500 * time.Millisecond,
	}

	bus, err := feetech.NewBus(busConfig)
	if err != nil {
		dis.logger.Debugf("Failed to open port %s: %v", portPath, err)
		return false
	}
	defer bus.Close()

	servo, err := bus.ServoWithModel(1, "sts3215")
	if err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		return false
	}
	_, err = servo.Ping()
	return err == nil
}

// filterCandidatePorts filters serial ports by platform-specific naming patterns
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

// isCandidatePort checks if a port matches USB serial adapter patterns
func isCandidatePort(port string) bool {
	// Linux: /dev/ttyUSB*, /dev/ttyACM*
	if strings.HasPrefix(port, "/dev/ttyUSB") || strings.HasPrefix(port, "/dev/ttyACM") {
		return true
	}
	// macOS: /dev/tty.usbmodem*, /dev/tty.usbserial*, /dev/cu.usbmodem*, /dev/cu.usbserial*
	if strings.HasPrefix(port, "/dev/tty.usbmodem") || strings.HasPrefix(port, "/dev/tty.usbserial") || strings.HasPrefix(port, "/dev/cu.usbmodem") || strings.HasPrefix(port, "/dev/cu.usbserial") {
		return true
	}
	// Windows: COM*
	if strings.HasPrefix(port, "COM") {
		return true
	}
	return false
}

// extractPortSuffix extracts a friendly suffix from port path for naming
// /dev/ttyUSB0 -> "ttyUSB0"
// COM3 -> "COM3"
// /dev/tty.usbmodem123 -> "usbmodem123"
func extractPortSuffix(portPath string) string {
	base := filepath.Base(portPath)

	// For macOS /dev/tty.usb* ports, strip the "tty." prefix
	if strings.HasPrefix(base, "tty.usb") {
		return strings.TrimPrefix(base, "tty.")
	}
	if strings.HasPrefix(base, "cu.usb") {
		return strings.TrimPrefix(base, "cu.")
	}

	return base
}

// findCalibrationFile searches for calibration files in moduleDataDir.
// Tries a port-specific file first, then falls back to the default.
// Returns just the filename (not full path) or empty string if not found.
func findCalibrationFile(moduleDataDir, portSuffix string, logger logging.Logger) string {
	portSpecific := filepath.Join(moduleDataDir, portSuffix+"_calibration.json")
	if _, err := os.Stat(portSpecific); err == nil {
		logger.Debugf("Found port-specific calibration file: %s", filepath.Base(portSpecific))
		return filepath.Base(portSpecific)
	}

	defaultFile := filepath.Join(moduleDataDir, "ik_arm_calibration.json")
	if _, err := os.Stat(defaultFile); err == nil {
		logger.Debug("Found default calibration file: ik_arm_calibration.json")
		return "ik_arm_calibration.json"
	}

	logger.Debug("No calibration file found")
	return ""
}

// enumerateSerialPorts returns a list of all serial ports on the system
func enumerateSerialPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return []string{}
	}

	var portPaths []string
	for _, port := range ports {
		portPaths = append(portPaths, port.Name)
	}
	return portPaths
}

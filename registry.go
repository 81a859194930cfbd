package roboarm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hipsterbrown/feetech-servo"
)

// ControllerEntry tracks one shared bus and its reference count.
type ControllerEntry struct {
	controller  *SafeArmController
	config      *Config
	calibration ArmCalibration
	refCount    int64 // Atomic reference counter
	lastError   error
	mu          sync.RWMutex
}

// ControllerRegistry hands out shared controllers keyed by serial port.
// Components on the same port share one bus; the bus closes when the
// last component releases it.
type ControllerRegistry struct {
	entries map[string]*ControllerEntry // port path -> entry
	mu      sync.RWMutex
}

func NewControllerRegistry() *ControllerRegistry {
	return &ControllerRegistry{
		entries: make(map[string]*ControllerEntry),
	}
}

// configsEqual compares the fields two components must agree on to share
// one bus.
func configsEqual(a, b *Config) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port &&
		a.Baudrate == b.Baudrate &&
		a.Timeout == b.Timeout
}

func (r *ControllerRegistry) GetController(portPath string, config *Config, calibration ArmCalibration, fromFile bool) (*SafeArmController, error) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if exists {
		return r.getExistingController(entry, config, calibration, fromFile)
	}

	return r.createNewController(portPath, config, calibration, fromFile)
}

func (r *ControllerRegistry) getExistingController(entry *ControllerEntry, config *Config, calibration ArmCalibration, fromFile bool) (*SafeArmController, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.controller == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached controller creation error: %w", entry.lastError)
		}
		return nil, fmt.Errorf("controller not available for port %s", entry.config.Port)
	}

	if !configsEqual(entry.config, config) {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing controller uses different config (refCount: %d)", currentRefCount)
	}

	// Calibration only updates when a file explicitly supplied it;
	// defaults never overwrite a live calibration.
	if fromFile && !entry.calibration.Equal(calibration) {
		if config.Logger != nil {
			config.Logger.Info("Updating controller calibration")
		}
		entry.controller.UpdateCalibration(calibration)
		entry.calibration = calibration
	}

	atomic.AddInt64(&entry.refCount, 1)

	return newArmController(entry.controller.bus, entry.controller.servos, config.ServoIDs, entry.calibration, config.Logger), nil
}

func (r *ControllerRegistry) createNewController(portPath string, config *Config, calibration ArmCalibration, fromFile bool) (*SafeArmController, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[portPath]; exists {
		return r.getExistingController(entry, config, calibration, fromFile)
	}

	entry := &ControllerEntry{
		config:      config,
		calibration: calibration,
	}

	busConfig := feetech.BusConfig{
		Port:         config.Port,
		Baudrate:     config.Baudrate,
		Protocol:     feetech.ProtocolV0,
		Timeout:      config.Timeout,
		Calibrations: calibration.ToFeetechCalibrationMap(),
	}

	if busConfig.Timeout == 0 {
		busConfig.Timeout = time.Second
	}
	if busConfig.Baudrate == 0 {
		busConfig.Baudrate = 1000000
	}

	bus, err := feetech.NewBus(busConfig)
	if err != nil {
		entry.lastError = err
		r.entries[portPath] = entry
		return nil, fmt.Errorf("failed to create feetech servo bus: %w", err)
	}

	servos := make(map[int]*feetech.Servo)
	for _, id := range config.ServoIDs {
		servo, err := bus.ServoWithModel(id, "sts3215")
		if err != nil {
			bus.Close()
			entry.lastError = err
			r.entries[portPath] = entry
			return nil, fmt.Errorf("failed to create servo %d: %w", id, err)
		}
		servos[id] = servo
	}

	entry.controller = newArmController(bus, servos, config.ServoIDs, calibration, config.Logger)
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)

	r.entries[portPath] = entry

	if config.Logger != nil {
		config.Logger.Infof("Created new feetech servo bus with %d servos for port %s", len(servos), portPath)
	}

	return newArmController(bus, servos, config.ServoIDs, calibration, config.Logger), nil
}

func (r *ControllerRegistry) ReleaseController(portPath string) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	currentRefCount := atomic.AddInt64(&entry.refCount, -1)
	if currentRefCount <= 0 {
		if entry.controller != nil && entry.controller.bus != nil {
			if err := entry.controller.bus.Close(); err != nil && entry.config != nil && entry.config.Logger != nil {
				entry.config.Logger.Warnf("error closing shared controller for port %s: %v", portPath, err)
			}
		}

		r.mu.Lock()
		delete(r.entries, portPath)
		r.mu.Unlock()

		entry.controller = nil
		entry.config = nil
		entry.calibration = ArmCalibration{}
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}
}

func (r *ControllerRegistry) ForceCloseController(portPath string) error {
	r.mu.Lock()
	entry, exists := r.entries[portPath]
	if exists {
		delete(r.entries, portPath)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.controller != nil {
		if entry.controller.bus != nil {
			err = entry.controller.bus.Close()
		}
		entry.controller = nil
		entry.config = nil
		entry.calibration = ArmCalibration{}
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}

	return err
}

func (r *ControllerRegistry) GetControllerStatus(portPath string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	currentRefCount := atomic.LoadInt64(&entry.refCount)
	hasController := entry.controller != nil
	configSummary := ""

	if entry.config != nil {
		calibrationInfo := "default"
		if !entry.calibration.Equal(DefaultArmCalibration) {
			calibrationInfo = "custom"
		}
		configSummary = fmt.Sprintf("Serial: %s@%d, Calibration: %s",
			entry.config.Port, entry.config.Baudrate, calibrationInfo)
	}

	return currentRefCount, hasController, configSummary
}

func (r *ControllerRegistry) GetCurrentCalibration(portPath string) ArmCalibration {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return ArmCalibration{}
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.calibration
}

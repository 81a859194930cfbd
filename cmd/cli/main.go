package main

import (
	"context"
	"flag"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	roboarm "github.com/kvasdopil/robot-arm"
)

var (
	port  = flag.String("port", "", "serial port of the arm; empty runs solver-only")
	speed = flag.Float64("speed", 45, "joint speed in degrees per second")
)

func main() {
	flag.Parse()
	if err := realMain(); err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("ik-arm-cli")

	cfg := &roboarm.Config{
		Port:            *port,
		Baudrate:        1000000,
		Timeout:         5 * time.Second,
		SpeedDegsPerSec: float32(*speed),
	}
	if _, _, err := cfg.Validate(""); err != nil {
		return err
	}

	ikArm, err := roboarm.NewIkArm(ctx, resource.NewName(arm.API, "ik-arm"), cfg, logger)
	if err != nil {
		return err
	}
	defer ikArm.Close(ctx)

	logger.Info("ik-arm initialized")

	// Plan a move through a few targets and print the solved waypoints.
	targets := []r3.Vector{
		{X: -8, Y: 12, Z: 0},
		{X: -6, Y: 10, Z: 4},
		{X: 0, Y: 14, Z: -8},
	}

	for _, target := range targets {
		logger.Infof("Solving toward (%.1f, %.1f, %.1f) cm", target.X, target.Y, target.Z)

		result, err := ikArm.DoCommand(ctx, map[string]interface{}{
			"command": "solve",
			"target":  []interface{}{target.X, target.Y, target.Z},
		})
		if err != nil {
			logger.Warnf("solve failed: %v", err)
			continue
		}

		logger.Infof("angles: %v", result["angles"])
		logger.Infof("effector: %v", result["effector"])

		pose, err := ikArm.EndPosition(ctx, nil)
		if err != nil {
			return err
		}
		logger.Infof("end position (mm): %v", spatialmath.PoseToProtobuf(pose).String())
	}

	status, err := ikArm.DoCommand(ctx, map[string]interface{}{"command": "get_status"})
	if err != nil {
		return err
	}
	logger.Infof("final status: %v", status)

	return nil
}

package main

import (
	"fmt"

	"github.com/mesoqsim/qsim/pkg/ids"
)

// modeClassifier implements engine.ModeClassifier from the configured
// simulation.main_modes list and the vehicle types file's declared
// networkMode attributes.
type modeClassifier struct {
	networkModes map[string]bool
	typesByMode  map[string]ids.ID
}

func newModeClassifier(mainModes []string, typesByMode map[string]ids.ID) *modeClassifier {
	set := make(map[string]bool, len(mainModes))
	for _, m := range mainModes {
		set[m] = true
	}
	return &modeClassifier{networkModes: set, typesByMode: typesByMode}
}

func (c *modeClassifier) IsNetworkMode(mode string) bool { return c.networkModes[mode] }

func (c *modeClassifier) VehicleTypeFor(mode string) ids.ID {
	t, ok := c.typesByMode[mode]
	if !ok {
		panic(fmt.Sprintf("qsim: no vehicle type declares networkMode %q", mode))
	}
	return t
}

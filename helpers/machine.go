// Copyright (c) 2026 NimbusVPN, LLC.

package helpers

import (
	"github.com/panta/machineid"
)

// We generate a hashed machine ID as the raw machine ID hashed by the
// ("NimbusVPN" + raw machine ID) key. That keeps the identifier stable
// across reboots (as long as the OS is not reinstalled) without exposing
// the raw machine ID to our backend.
func StableMachineID() (string, error) {
	rawId, err := machineid.ID()
	if err != nil {
		return "ERROR", err
	}

	hashedId, err := machineid.ProtectedID("NimbusVPN " + rawId)
	if err != nil {
		return "ERROR", err
	}

	return hashedId, nil
}

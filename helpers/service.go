// Copyright (c) 2026 NimbusVPN, LLC.

package helpers

// ServiceName - the daemon's system service name. Shared by logging and
// platform path construction.
const ServiceName = "nimbusvpn-daemon"

// Copyright 2025 DisasterManagementDSATM Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🛰️  Disaster Relief Sync Toolkit")
	fmt.Println("================================")
	fmt.Println()
	fmt.Println("Offline-first record synchronization for field deployments: durable")
	fmt.Println("local stores, a replayable mutation queue, last-writer-wins merging,")
	fmt.Println("peer-to-peer mesh exchange and cached route computation.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Relief Server (examples/relief_server/)")
	fmt.Println("   Authoritative sync endpoint with live events, relay and metrics")
	fmt.Println("   Features: batch sync, snapshot watermarks, Postgres or in-memory")
	fmt.Println("   Run: cd examples/relief_server && go run .")
	fmt.Println()

	fmt.Println("2. 📱 Field Device (examples/field_device/)")
	fmt.Println("   SQLite-backed offline device with background sync and mesh")
	fmt.Println("   Features: mutation queue, retry/backoff loop, cached routing")
	fmt.Println("   Run: cd examples/field_device && go run . -demo")
	fmt.Println()
}

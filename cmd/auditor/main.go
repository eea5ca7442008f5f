// Package main is the auditor entrypoint.
package main

import "github.com/JakeFAU/seo-audit-orchestrator/cmd"

func main() {
	cmd.Execute()
}

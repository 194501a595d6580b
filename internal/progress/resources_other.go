//go:build !unix

package progress

func readRusage(*ResourceUsage) {}

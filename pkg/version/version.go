// Package version holds the build identifier reported by the version
// property. Release builds set it with
//
//	-ldflags "-X github.com/ja7ad/policyd/pkg/version.Build=v1.0.0"
package version

var Build = "dev"

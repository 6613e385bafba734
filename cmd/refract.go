// Package cmd carries build metadata shared by the refract binaries.
package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
)

// Version is stamped at build time:
//
//	-ldflags "-X github.com/nulzo/refract/cmd.Version=v1.2.3"
var Version = "v0.0.0"

type githubRelease struct {
	TagName string `json:"tag_name"`
}

// CheckForUpdates compares the running build against the latest GitHub
// release and prints a notice when it lags. Every failure path is silent;
// the check must never delay or break startup.
func CheckForUpdates() {
	url := "https://api.github.com/repos/nulzo/refract/releases/latest"

	client := http.Client{
		Timeout: 2 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return
	}

	current, err := version.NewVersion(Version)
	if err != nil {
		return
	}

	latest, err := version.NewVersion(release.TagName)
	if err != nil {
		return
	}

	if current.LessThan(latest) {
		fmt.Printf("refract %s is available (running %s), pull the latest image\n",
			release.TagName, Version)
	}
}

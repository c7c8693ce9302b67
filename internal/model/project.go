package model

import "time"

// Project is one entry in the projects.json manifest.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProjectManifest is the on-disk shape of projects.json. The whole file
// is rewritten on each mutation.
type ProjectManifest struct {
	Projects []Project `json:"projects"`
}

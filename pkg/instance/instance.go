package instance

import "os"

// GetID identifies this process in log output. An explicit
// CREDITCORE_INSTANCE_ID wins; Heroku-style dynos expose DYNO; anything
// else is a local run.
func GetID() string {
	if id := os.Getenv("CREDITCORE_INSTANCE_ID"); id != "" {
		return id
	}
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	return "local"
}

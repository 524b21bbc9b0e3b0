package internal

import "fmt"

var (
	// These variables are here only to show current version. They are set in makefile during build process
	ServerVersion         = "devel"
	GitRevision           = "devel"
	ServerVersionRevision = fmt.Sprintf("%s-%s", ServerVersion, GitRevision)
)

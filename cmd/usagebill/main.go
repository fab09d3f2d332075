package main

import (
	"os"

	"github.com/usagebill/backend/cmd/usagebill/cmd"
)

//	@title			usagebill operator API
//	@version		1.0
//	@description	Operator surface of the usage billing pipeline: window ledger, overrides and manual runs.

//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html

//	@BasePath	/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

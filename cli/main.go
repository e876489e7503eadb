// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"os"

	"github.com/alecthomas/kingpin"
)

func main() {
	app := kingpin.New("httpsd", "HTTP service-discovery endpoint for metrics scrapers.")

	configFile := app.Flag("config", "configuration file path").Required().String()
	cluster := app.Flag("cluster", "cluster name, used to tag metrics").String()

	serveCmd := app.Command("serve", "Run as a monolith: server + background refresher in one process.")

	serverOnlyCmd := app.Command("server-only", "Run only the HTTP server of a split deployment.")

	workerOnlyCmd := app.Command("worker-only", "Run only the worker pool of a split deployment.")
	workerID := workerOnlyCmd.Flag("worker-id", "identifies this worker in metrics and error details").String()

	checkCmd := app.Command("check", "Validate every generator file under the configured root.")

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	flags := &Flags{
		ConfigFile: *configFile,
		Cluster:    *cluster,
	}

	switch cmd {
	case serveCmd.FullCommand():
		flags.Mode = ModeServe
	case serverOnlyCmd.FullCommand():
		flags.Mode = ModeServerOnly
	case workerOnlyCmd.FullCommand():
		flags.Mode = ModeWorkerOnly
		flags.WorkerID = *workerID
	case checkCmd.FullCommand():
		flags.Mode = ModeCheck
	}

	os.Exit(Run(flags))
}

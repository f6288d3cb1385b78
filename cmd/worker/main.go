/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/operator"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/operator/options"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Development convenience; deployments configure through the pod env.
	_ = godotenv.Load()
	opts := options.New().MustParse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	op, err := operator.NewOperator(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker startup failed: %s\n", err)
		return 1
	}
	defer op.Close()

	err = op.Run(ctx)
	code := operator.ExitCode(err)
	if code == 1 {
		op.Log.Error(err, "worker failed")
	}
	return code
}

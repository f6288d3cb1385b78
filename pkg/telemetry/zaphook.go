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

package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapHook returns a logger option that mirrors WARN and above into the
// tracker's log buffer, so the status surface shows recent trouble without
// a log pipeline.
func ZapHook(t *Tracker) zap.Option {
	return zap.Hooks(func(entry zapcore.Entry) error {
		if entry.Level < zapcore.WarnLevel {
			return nil
		}
		t.RecordLog(LogLine{
			Time:    entry.Time,
			Level:   entry.Level.String(),
			Logger:  entry.LoggerName,
			Message: entry.Message,
		})
		return nil
	})
}

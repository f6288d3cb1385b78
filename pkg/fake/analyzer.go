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

package fake

import (
	"context"
	"sync"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/ai"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// Analyzer scripts gate results for controller tests. Resolution order:
// Error, ByParish, ByFact, Default; unscripted calls report InvalidOutput,
// which the gate treats as "nothing usable" rather than a failure.
type Analyzer struct {
	mu       sync.Mutex
	Error    error
	Default  *ai.Result
	ByParish map[int64]*ai.Result
	ByFact   map[types.FactType]*ai.Result
	calls    int
}

var _ ai.Analyzer = (*Analyzer)(nil)

func (a *Analyzer) Analyze(_ context.Context, _ string, parish types.Parish, factType types.FactType) (*ai.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.Error != nil {
		return nil, a.Error
	}
	if r, ok := a.ByParish[parish.ID]; ok {
		return r, nil
	}
	if r, ok := a.ByFact[factType]; ok {
		return r, nil
	}
	if a.Default != nil {
		return a.Default, nil
	}
	return nil, dverrors.New(dverrors.KindInvalidOutput, "no scripted result for parish %d %s", parish.ID, factType)
}

func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Error = nil
	a.Default = nil
	a.ByParish = nil
	a.ByFact = nil
	a.calls = 0
}

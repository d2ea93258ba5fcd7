// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring

import "testing"

func TestBuild_SelectsEngineByMultipleWriters(t *testing.T) {
	spsc := Build[int](New(8))
	if _, ok := spsc.(*SPSC[int]); !ok {
		t.Fatalf("Build without MultipleWriters() = %T, want *SPSC[int]", spsc)
	}

	mpsc := Build[int](New(8).MultipleWriters())
	if _, ok := mpsc.(*MPSC[int]); !ok {
		t.Fatalf("Build with MultipleWriters() = %T, want *MPSC[int]", mpsc)
	}
}

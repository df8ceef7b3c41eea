package profile

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGrid(tst *testing.T) {
	g, err := Grid(1e-3, 10, 5)
	if err != nil {
		tst.Fatal(err)
	}
	exp := []float64{1e-3, 1e-2, 1e-1, 1, 10}
	for i, v := range g {
		if math.Abs(v-exp[i]) > 1e-12*exp[i] {
			tst.Errorf("grid[%d] = %v, expected %v", i, v, exp[i])
		}
	}
	for _, c := range [][3]float64{{0, 1, 5}, {1, 1, 5}, {1, 2, 1}} {
		if _, err := Grid(c[0], c[1], int(c[2])); err == nil {
			tst.Error("invalid grid accepted:", c)
		}
	}
}

func parabola() *Profile {
	pr := &Profile{Node: 3}
	pr.T, _ = Grid(0.01, 1, 20)
	for _, t := range pr.T {
		pr.LnL = append(pr.LnL, -100-(t-0.2)*(t-0.2))
		pr.D1 = append(pr.D1, 2*(t-0.2))
		pr.D2 = append(pr.D2, 2)
	}
	return pr
}

func TestMax(tst *testing.T) {
	t, l := parabola().Max()
	if math.Abs(t-0.2) > 0.05 || l > -100 {
		tst.Errorf("wrong maximum %v at %v", l, t)
	}
}

func TestWrite(tst *testing.T) {
	var b bytes.Buffer
	if err := parabola().Write(&b); err != nil {
		tst.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	if len(lines) != 21 || lines[0] != "t\tlnL\td1\td2" || len(strings.Split(lines[1], "\t")) != 4 {
		tst.Errorf("wrong table:\n%s", b.String())
	}
}

func TestSave(tst *testing.T) {
	for _, ext := range []string{"png", "svg"} {
		fn := filepath.Join(tst.TempDir(), "profile."+ext)
		if err := parabola().Save(fn); err != nil {
			tst.Fatal(err)
		}
		if st, err := os.Stat(fn); err != nil || st.Size() == 0 {
			tst.Error("plot was not written:", err)
		}
	}
	if err := (&Profile{}).Save("empty.png"); err == nil {
		tst.Error("empty profile accepted")
	}
}

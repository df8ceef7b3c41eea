package plh

import (
	"bufio"
	"fmt"
	"io"
)

// ShowCLV writes a CLV, one site per line, rate categories in
// brackets. Scaled sites are followed by their scale count. Tips are
// shown as 0/1 indicators.
func (p *Partition) ShowCLV(w io.Writer, clv, scaler, precision int) error {
	bw := bufio.NewWriter(w)
	scale := p.Scaler(scaler)
	for n := 0; n < p.Sites; n++ {
		fmt.Fprint(bw, "[")
		for c := 0; c < p.RateCats; c++ {
			if c > 0 {
				fmt.Fprint(bw, " ")
			}
			fmt.Fprint(bw, "(")
			for i, v := range p.siteVector(clv, n, c) {
				if i > 0 {
					fmt.Fprint(bw, ",")
				}
				fmt.Fprintf(bw, "%.*f", precision, v)
			}
			fmt.Fprint(bw, ")")
		}
		fmt.Fprint(bw, "]")
		if scale != nil && scale[n] > 0 {
			fmt.Fprintf(bw, " * %d", scale[n])
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// ShowPMatrix writes a probability matrix, one matrix per rate
// category separated by empty lines.
func (p *Partition) ShowPMatrix(w io.Writer, index, precision int) error {
	bw := bufio.NewWriter(w)
	states := p.States
	m := p.pmatrix[index]
	for c := 0; c < p.RateCats; c++ {
		if c > 0 {
			fmt.Fprintln(bw)
		}
		for i := 0; i < states; i++ {
			for j := 0; j < states; j++ {
				if j > 0 {
					fmt.Fprint(bw, "\t")
				}
				fmt.Fprintf(bw, "%.*f", precision, m[(c*states+i)*states+j])
			}
			fmt.Fprintln(bw)
		}
	}
	return bw.Flush()
}

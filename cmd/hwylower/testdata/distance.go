//go:build ignore

package kernels

const K = 64

// SquaredL2 accumulates the pairwise squared distances between the rows of A
// and the rows of B, four rows of B per unrolled tile.
//
//hwy:kernel
func SquaredL2(Out [I][J]float32, A [I][K]float32, B [J][K]float32) {
	//hwy:parallel blockIdx.x
	for i := 0; i < I; i++ {
		for jo := 0; jo < ceilDiv(J, 4); jo++ {
			//hwy:unroll
			for ji := 0; ji < 4; ji++ {
				for k := 0; k < K; k++ {
					Out[i][jo*4+ji] += (A[i][k] - B[jo*4+ji][k]) * (A[i][k] - B[jo*4+ji][k])
				}
			}
		}
	}
}

// Norms computes the squared norm of every row of A, eight rows at a time.
//
//hwy:kernel
//hwy:multiple I 8
func Norms(Out [I]float32, A [I][K]float32) {
	for io := 0; io < ceilDiv(I, 8); io++ {
		//hwy:unroll
		for ii := 0; ii < 8; ii++ {
			for k := 0; k < K; k++ {
				Out[io*8+ii] += A[io*8+ii][k] * A[io*8+ii][k]
			}
		}
	}
}

// Command ncsn generates images with a trained noise-conditional score
// network by annealed Langevin dynamics.
//
//	ncsn --dataset=mnist --num_L=10 --filters=128            # grid snapshots of 100 samples
//	ncsn --mode=bulk --n_images=50000 --batch_size=250       # one PNG per sample
//	ncsn --find_nearest --k=10                               # samples next to their closest training images
//	ncsn --mode=evaluate --data_dir=./data                   # objectives on a perturbed training batch
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

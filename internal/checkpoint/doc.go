// Package checkpoint saves and restores score-model weights.
//
// Checkpoints are SafeTensors files:
//
//	[8 bytes: header size (uint64 LE)]
//	[header: JSON, tensor entries plus "__metadata__"]
//	[tensor data: raw little-endian bytes, alphabetical by name]
//
// Weights are written as F64. F32 files (e.g. converted from other
// frameworks) are widened on load.
//
// On disk a model directory holds one file per training step:
//
//	{root}/refinenet{filters}_{dataset}_L{num_L}/ckpt-{step}.safetensors
//
// and the highest step is the one restored.
package checkpoint

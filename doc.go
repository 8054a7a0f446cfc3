// Package pglsum trains an attention-based video summarizer with a
// contrastive objective and exports per-frame importance scores.
//
// Each training step runs the summarizer twice over the same batch of
// videos. Dropout makes the two passes differ, so the pooled embeddings of
// one video form a positive pair while the other videos of the batch act as
// negatives. The pairs are scored by cosine similarity divided by a
// temperature and the InfoNCE loss is minimized with Adam.
//
// # Packages
//
//   - similarity: temperature-scaled cosine similarity matrix and its gradient
//   - loss: cross-entropy over similarity rows (InfoNCE)
//   - summarizer: reference multi-head global/local attention model
//   - initializer: normal, xavier, kaiming and orthogonal weight policies
//   - optim: Adam with L2 weight decay and global gradient-norm clipping
//   - solver: Build, Train and Evaluate orchestration
//   - dataset, preprocessing: frame feature sources and standardization
//   - export, metrics: score files, weight archives and loss curves
//
// # Quick Start
//
//	cfg, err := config.Load("pglsum.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s := solver.New(cfg, train, eval)
//	defer s.Close()
//	if err := s.Build(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Train(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The same flow is available from the command line:
//
//	pglsum train --config pglsum.yaml
//	pglsum evaluate --config pglsum.yaml --checkpoint path/to/epoch-9.gob
package pglsum

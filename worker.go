package nanolog

import "time"

// workerMain is the compression worker. Each iteration scans the staging
// buffers for committed records, encodes as much as possible and writes
// the encoded stream out with double buffered asynchronous I/O.
func (r *Runtime) workerMain() {
	defer close(r.workerDone)

	// Index of the last staging buffer checked for records
	lastStagingBufferChecked := 0

	// Marks the last wakeup, for active time accounting
	awakeStart := nanotime()
	r.workerStartNanos.Store(awakeStart)

	enc := r.cfg.NewEncoder(r.compressingBuffer, r.cfg.Codec)

	// Latched when the encoder reports a full output buffer
	outputBufferFull := false

	// Set when the scan cursor passed index zero but the next extent has
	// not recorded that yet
	wrapAround := false

	// Shadow copy of the persisted dictionary entries. Producers keep
	// registering while the worker encodes; the shadow is append-only
	// and read without locking.
	var shadow []StaticLogInfo

	// Marks when the in-flight write started
	var lastIOStart int64

	for !r.shouldExit.Load() {
		// Staged bytes consumed this iteration. Zero means every buffer
		// was empty or the output encoder was full.
		bytesConsumedThisIteration := 0

		scanStart := nanotime()
		r.bufferMutex.Lock()

		// Emit new dictionary entries first so no record refers to a
		// site the output has not seen
		if r.registry.pending(r.nextSiteToPersist) {
			r.registry.mu.Lock()
			n := enc.EncodeNewDictionaryEntries(r.registry.sites, r.nextSiteToPersist)
			r.nextSiteToPersist += n
			if len(shadow) < r.nextSiteToPersist {
				shadow = append(shadow, r.registry.sites[len(shadow):r.nextSiteToPersist]...)
			}
			r.registry.mu.Unlock()
		}

		// The cursor can point past the list after deletions
		i := lastStagingBufferChecked
		if i >= len(r.threadBuffers) {
			i = 0
			lastStagingBufferChecked = 0
		}

		for !r.shouldExit.Load() && !outputBufferFull && len(r.threadBuffers) > 0 {
			sb := r.threadBuffers[i]
			peeked := sb.peek()

			if len(peeked) > 0 {
				r.metrics.StagingBufferPeekDist[peekDistBucket(len(peeked), r.cfg.StagingBufferSize)]++
				peekStart := nanotime()

				// Encoding is long, release the mutex around it
				r.bufferMutex.Unlock()

				var encodeNanos, encodeConsumeNanos uint64
				var batches, bytesRead, logs uint64

				// Consume in bounded chunks so staged space returns to
				// the producer early
				remaining := len(peeked)
				for remaining > 0 {
					chunk := remaining
					if chunk > r.cfg.ReleaseThreshold {
						chunk = r.cfg.ReleaseThreshold
					}
					off := len(peeked) - remaining

					encStart := nanotime()
					n, msgs := enc.EncodeLogMsgs(peeked[off:off+chunk], sb.id, wrapAround, shadow)
					encodeNanos += uint64(nanotime() - encStart)
					batches++

					if n == 0 {
						lastStagingBufferChecked = i
						outputBufferFull = true
						break
					}

					wrapAround = false
					remaining -= n
					sb.consume(n)
					bytesRead += uint64(n)
					logs += msgs
					bytesConsumedThisIteration += n
					encodeConsumeNanos += uint64(nanotime() - encStart)
				}

				r.bufferMutex.Lock()
				r.metrics.EncodeNanos += encodeNanos
				r.metrics.EncodeConsumeNanos += encodeConsumeNanos
				r.metrics.EncodeLockNanos += uint64(nanotime() - peekStart)
				r.metrics.NumEncodeBatches += batches
				r.metrics.NumEncodePasses++
				r.metrics.TotalBytesRead += bytesRead
				r.metrics.LogsProcessed += logs
			} else if sb.checkCanDelete() {
				r.threadBuffers = append(r.threadBuffers[:i], r.threadBuffers[i+1:]...)
				if len(r.threadBuffers) == 0 {
					lastStagingBufferChecked = 0
					wrapAround = true
					break
				}

				// Back up the indexes so no sibling is skipped on this
				// pass. Rechecking one is fine.
				if lastStagingBufferChecked >= i && lastStagingBufferChecked > 0 {
					lastStagingBufferChecked--
				}
				i--
			}

			i = (i + 1) % len(r.threadBuffers)
			if i == 0 {
				wrapAround = true
			}

			// Completed a full pass through the buffers
			if i == lastStagingBufferChecked {
				break
			}
		}

		r.metrics.ScanNanos += uint64(nanotime() - scanStart)
		r.metrics.NumScans++
		r.bufferMutex.Unlock()

		// Nothing pending in the output, go to sleep
		if enc.EncodedBytes() == 0 {
			// Without pending bytes a full latch has nothing to flush,
			// the next scan starts clean
			outputBufferFull = false

			// Settle the in-flight write so a returning Sync means the
			// bytes reached the file, not just the submission queue
			if r.hasOutstandingOperation {
				r.completeIO(r.aio.wait(), &lastIOStart)
			}

			r.condMutex.Lock()
			// One more pass after a sync request so records committed
			// right before the request are captured
			if r.syncRequested {
				r.syncRequested = false
				r.condMutex.Unlock()
				continue
			}

			now := nanotime()
			r.addActiveNanos(uint64(now - awakeStart))

			r.queueEmptied.Broadcast()
			r.condMutex.Unlock()

			r.waitForWork(r.cfg.PollIntervalNoWork)
			awakeStart = nanotime()
			continue
		}

		if r.hasOutstandingOperation {
			res, done := r.aio.tryComplete()
			if !done {
				if outputBufferFull {
					// No forward progress until the kernel releases the
					// double buffer
					sleepStart := nanotime()
					r.addActiveNanos(uint64(sleepStart - awakeStart))
					res = r.aio.wait()
					awakeStart = nanotime()
					done = true
				} else {
					// Little was consumed, nap briefly instead of
					// evicting the producer cache lines
					if bytesConsumedThisIteration <= r.cfg.LowWorkThreshold &&
						r.cfg.PollIntervalLowWork > 0 {
						sleepStart := nanotime()
						r.addActiveNanos(uint64(sleepStart - awakeStart))
						r.waitForWork(r.cfg.PollIntervalLowWork)
						sleepEnd := nanotime()
						awakeStart = sleepEnd

						r.bufferMutex.Lock()
						r.metrics.SleepLowWorkNanos += uint64(sleepEnd - sleepStart)
						r.metrics.NumLowWorkSleeps++
						r.bufferMutex.Unlock()
					}

					res, done = r.aio.tryComplete()
					if !done {
						continue
					}
				}
			}
			r.completeIO(res, &lastIOStart)
		}

		// The double buffer is free now. Pad if direct I/O demands it
		// and hand the encoded bytes to the kernel.
		toWrite := enc.EncodedBytes()
		buf := r.compressingBuffer[:toWrite]
		if r.cfg.FileFlags&directIOFlag != 0 {
			padded := padTo512(toWrite)
			if padded != toWrite {
				clear(r.compressingBuffer[toWrite:padded])
				buf = r.compressingBuffer[:padded]

				r.bufferMutex.Lock()
				r.metrics.PadBytesWritten += uint64(padded - toWrite)
				r.bufferMutex.Unlock()
			}
		}

		r.bufferMutex.Lock()
		r.metrics.TotalBytesWritten += uint64(len(buf))
		r.metrics.MsgsWritten = r.metrics.LogsProcessed
		r.bufferMutex.Unlock()

		lastIOStart = nanotime()
		r.aio.submit(r.out, buf)
		r.hasOutstandingOperation = true

		// Swap buffers
		enc.SwapBuffer(r.outputDoubleBuffer)
		r.compressingBuffer, r.outputDoubleBuffer = r.outputDoubleBuffer, r.compressingBuffer
		outputBufferFull = false
	}

	// Drain the outstanding write before exiting
	if r.hasOutstandingOperation {
		r.completeIO(r.aio.wait(), &lastIOStart)
	}

	r.condMutex.Lock()
	r.running = false
	r.queueEmptied.Broadcast()
	r.condMutex.Unlock()
}

// completeIO finishes one write, verifying the result and keeping the
// counters straight. I/O errors are reported and counted but never stop
// the worker.
func (r *Runtime) completeIO(res aioResult, lastIOStart *int64) {
	if res.err != nil {
		diag.errorf("async log write failed: %v", res.err)
	}

	r.bufferMutex.Lock()
	r.metrics.DiskIONanos += uint64(nanotime() - *lastIOStart)
	r.metrics.NumAioWritesCompleted++
	r.bufferMutex.Unlock()

	r.hasOutstandingOperation = false
}

// waitForWork sleeps until a signal arrives or the interval elapses
func (r *Runtime) waitForWork(d time.Duration) {
	timer := time.NewTimer(d)
	select {
	case <-r.workAdded:
	case <-timer.C:
	}
	timer.Stop()
}

func (r *Runtime) addActiveNanos(n uint64) {
	r.bufferMutex.Lock()
	r.metrics.ActiveNanos += n
	r.bufferMutex.Unlock()
}

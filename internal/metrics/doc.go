/*
Package metrics records Prometheus metrics for a volume acquisition run.

The process runs once and exits, so metrics are not served over HTTP. Instead
the Collector writes its registry to a file in the Prometheus text format,
which the node exporter's textfile collector picks up:

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}
	client.SetObserver(collector.ObserveAPICall)
	opts.Recorder = collector
	...
	_ = collector.WriteToTextfile("/var/lib/node_exporter/cps.prom")

# Metrics

	cloud_persistent_storage_acquisitions_total{outcome}
	cloud_persistent_storage_state_transitions_total{from,to}
	cloud_persistent_storage_candidates_discovered
	cloud_persistent_storage_attach_attempts_total{source,status}
	cloud_persistent_storage_confirm_duration_seconds{status}
	cloud_persistent_storage_operations_total{operation,status}
	cloud_persistent_storage_operation_duration_seconds{operation}
	cloud_persistent_storage_last_run_timestamp_seconds
	cloud_persistent_storage_last_run_duration_seconds

The outcome label is "success" or the lower-cased error code of the failure,
for example "confirm_timeout" or "tagging_failed". EC2 calls are recorded as
operations named "ec2_<Operation>"; filesystem steps as "mkfs" and "mount".

A Collector created with Enabled set to false accepts every call and records
nothing.
*/
package metrics

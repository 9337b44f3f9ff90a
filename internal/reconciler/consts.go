package reconciler

// Annotations read from namespaces and workloads. These are the operator's
// public contract; changing them breaks existing clusters.
const (
	// ControlAnnotation opts a namespace or resource out of processing
	// when set to DisableValue.
	ControlAnnotation = "ks_scale"

	// ScaleUpAnnotation and ScaleDownAnnotation hold the schedule strings.
	ScaleUpAnnotation   = "ks_scale_up"
	ScaleDownAnnotation = "ks_scale_down"

	// DisableValue is the exact opt-out value; any other value is ignored.
	DisableValue = "Disable"
)

// systemNamespacePrefix excludes cluster-system namespaces (kube-system,
// kube-public, kube-node-lease) regardless of their annotations.
const systemNamespacePrefix = "kube-"

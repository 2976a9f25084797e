package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirupsen/logrus"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// EventHandler delivers a single normalized Event downstream. ClusterDiscovery
// is always constructed with EventsManager.WriteEvent bound as the handler,
// but accepting the function keeps the component free of a direct dependency
// on EventsManager, per the "accept injected collaborators" design note.
type EventHandler func(ctx context.Context, e Event) error

// listFunc lists a resource kind and returns its items alongside the list's
// resource version, the point ClusterDiscovery resumes a watch from.
type listFunc func(ctx context.Context, opts metav1.ListOptions) (items []interface{}, resourceVersion string, err error)

// watchFunc opens a watch stream for a resource kind.
type watchFunc func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)

type watchEndpoint struct {
	list  listFunc
	watch watchFunc
}

// watchTarget is the internal per-kind state ClusterDiscovery tracks: the
// binding to its list/watch endpoint and the resource version to resume
// from. lastResourceVersion is reset to "" whenever an error forces a full
// resync, per the invariant in SPEC_FULL.md §3.
type watchTarget struct {
	kind                string
	endpoint            watchEndpoint
	lastResourceVersion string
}

// DiscoveryConfig configures ClusterDiscovery's watch target set and restart
// backoff.
type DiscoveryConfig struct {
	// RetryIntervalSeconds is the outer restart backoff after a
	// connection-class error. Must be >= 0. Default: 30.
	RetryIntervalSeconds int

	// CollectResources enables the fixed Pod/Node/Namespace/Deployment
	// watch targets. Default: true.
	CollectResources bool

	// CollectEvents additionally watches core/v1 Event objects across all
	// namespaces. Default: false.
	CollectEvents bool
}

// DefaultDiscoveryConfig returns the documented defaults.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		RetryIntervalSeconds: 30,
		CollectResources:     true,
		CollectEvents:        false,
	}
}

// ClusterDiscovery watches the fixed set of Kubernetes resource kinds and
// translates their lifecycle stream into Watch events, plus one best-effort
// Cluster event at startup.
type ClusterDiscovery struct {
	cfg       DiscoveryConfig
	clientset kubernetes.Interface
	handler   EventHandler
	logger    *logrus.Entry
	targets   []*watchTarget
}

// NewClusterDiscovery validates cfg and builds the fixed watch target tuple.
func NewClusterDiscovery(clientset kubernetes.Interface, handler EventHandler, cfg DiscoveryConfig, logger *logrus.Entry) (*ClusterDiscovery, error) {
	if cfg.RetryIntervalSeconds < 0 {
		return nil, fmt.Errorf("%w: retry_interval_seconds must be >= 0", ErrConfiguration)
	}
	d := &ClusterDiscovery{
		cfg:       cfg,
		clientset: clientset,
		handler:   handler,
		logger:    logger,
	}
	d.targets = d.buildTargets()
	return d, nil
}

func (d *ClusterDiscovery) buildTargets() []*watchTarget {
	var targets []*watchTarget
	if d.cfg.CollectResources {
		targets = append(targets,
			&watchTarget{kind: "Pod", endpoint: podEndpoint(d.clientset)},
			&watchTarget{kind: "Node", endpoint: nodeEndpoint(d.clientset)},
			&watchTarget{kind: "Namespace", endpoint: namespaceEndpoint(d.clientset)},
			&watchTarget{kind: "Deployment", endpoint: deploymentEndpoint(d.clientset)},
		)
	}
	if d.cfg.CollectEvents {
		targets = append(targets, &watchTarget{kind: "Event", endpoint: eventEndpoint(d.clientset)})
	}
	return targets
}

func podEndpoint(cs kubernetes.Interface) watchEndpoint {
	return watchEndpoint{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]interface{}, string, error) {
			list, err := cs.CoreV1().Pods(metav1.NamespaceAll).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			items := make([]interface{}, len(list.Items))
			for i := range list.Items {
				items[i] = &list.Items[i]
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, opts)
		},
	}
}

func nodeEndpoint(cs kubernetes.Interface) watchEndpoint {
	return watchEndpoint{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]interface{}, string, error) {
			list, err := cs.CoreV1().Nodes().List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			items := make([]interface{}, len(list.Items))
			for i := range list.Items {
				items[i] = &list.Items[i]
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().Nodes().Watch(ctx, opts)
		},
	}
}

func namespaceEndpoint(cs kubernetes.Interface) watchEndpoint {
	return watchEndpoint{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]interface{}, string, error) {
			list, err := cs.CoreV1().Namespaces().List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			items := make([]interface{}, len(list.Items))
			for i := range list.Items {
				items[i] = &list.Items[i]
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().Namespaces().Watch(ctx, opts)
		},
	}
}

func deploymentEndpoint(cs kubernetes.Interface) watchEndpoint {
	return watchEndpoint{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]interface{}, string, error) {
			list, err := cs.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			items := make([]interface{}, len(list.Items))
			for i := range list.Items {
				items[i] = &list.Items[i]
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.AppsV1().Deployments(metav1.NamespaceAll).Watch(ctx, opts)
		},
	}
}

func eventEndpoint(cs kubernetes.Interface) watchEndpoint {
	return watchEndpoint{
		list: func(ctx context.Context, opts metav1.ListOptions) ([]interface{}, string, error) {
			list, err := cs.CoreV1().Events(metav1.NamespaceAll).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			items := make([]interface{}, len(list.Items))
			for i := range list.Items {
				items[i] = &list.Items[i]
			}
			return items, list.ResourceVersion, nil
		},
		watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			return cs.CoreV1().Events(metav1.NamespaceAll).Watch(ctx, opts)
		},
	}
}

// Start runs the outer restart loop: best-effort cluster info, then all
// per-target watch loops concurrently. A connection-class error cancels
// every target, sleeps RetryIntervalSeconds, and restarts from scratch; any
// other error propagates to the supervisor.
func (d *ClusterDiscovery) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		d.collectClusterInfo(ctx)

		g, gctx := errgroup.WithContext(ctx)
		for _, t := range d.targets {
			t := t
			g.Go(func() error {
				return d.startWatch(gctx, t)
			})
		}
		err := g.Wait()

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !isRecoverableTransport(err) {
			return err
		}

		d.logger.WithError(err).Warnf("cluster discovery restarting in %ds", d.cfg.RetryIntervalSeconds)
		d.resetAllTargets()

		select {
		case <-time.After(time.Duration(d.cfg.RetryIntervalSeconds) * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

// Stop forces a resync on every target the next time Start runs. The
// pipeline's own context cancellation handles halting the goroutines; this
// only clears the resume state.
func (d *ClusterDiscovery) Stop() {
	d.resetAllTargets()
}

func (d *ClusterDiscovery) resetAllTargets() {
	for _, t := range d.targets {
		t.lastResourceVersion = ""
	}
}

func (d *ClusterDiscovery) collectClusterInfo(ctx context.Context) {
	version, err := d.clientset.Discovery().ServerVersion()
	if err != nil {
		d.logger.WithError(err).Debug("failed to fetch cluster version, continuing without a cluster event")
		return
	}
	if err := d.handler(ctx, NewClusterEvent(version.GitVersion)); err != nil {
		d.logger.WithError(err).Debug("failed to deliver cluster event")
	}
}

// startWatch is the per-target loop. It is an explicit state machine over an
// outer for loop rather than the Python source's self-recursion, per the
// design note on bounding the call stack and simplifying cancellation.
func (d *ClusterDiscovery) startWatch(ctx context.Context, t *watchTarget) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if t.lastResourceVersion == "" {
			if err := d.initialList(ctx, t); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		forceResync, err := d.watchOnce(ctx, t)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if forceResync {
			t.lastResourceVersion = ""
		}
	}
}

func (d *ClusterDiscovery) initialList(ctx context.Context, t *watchTarget) error {
	items, rv, err := t.endpoint.list(ctx, metav1.ListOptions{})
	if err != nil {
		if isRecoverableTransport(err) {
			return fmt.Errorf("%w: %v", ErrRecoverableTransport, err)
		}
		return err
	}

	for _, item := range items {
		obj, _, ok := normalizeObject(item)
		if !ok {
			d.logger.WithField("kind", t.kind).Debug("skipping malformed list item")
			continue
		}
		if err := d.handler(ctx, NewWatchEvent(WatchAdded, taggedObject(t.kind, obj))); err != nil {
			return err
		}
	}
	t.lastResourceVersion = rv
	return nil
}

// watchOnce opens one watch stream and drains it until it closes, a
// recoverable error occurs, or ctx is cancelled. forceResync tells the
// caller whether to reset lastResourceVersion (a full resync) or merely
// re-enter the watch from the same version (watch expiration).
func (d *ClusterDiscovery) watchOnce(ctx context.Context, t *watchTarget) (forceResync bool, err error) {
	opts := metav1.ListOptions{Watch: true, ResourceVersion: t.lastResourceVersion}
	w, werr := t.endpoint.watch(ctx, opts)
	if werr != nil {
		if isGoneError(werr) {
			return true, nil
		}
		if isRecoverableTransport(werr) {
			return false, fmt.Errorf("%w: %v", ErrRecoverableTransport, werr)
		}
		return false, werr
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				// Watch channel closed: resume from the same resource version.
				return false, nil
			}
			if ev.Type == watch.Error {
				if status, ok := ev.Object.(*metav1.Status); ok {
					d.logger.WithField("kind", t.kind).WithField("reason", status.Reason).Debug("watch stream reported an error event, forcing resync")
				}
				return true, nil
			}

			kind, ok := watchKindFor(ev.Type)
			if !ok {
				d.logger.WithField("kind", t.kind).Debug("skipping watch item with unsupported type")
				continue
			}
			obj, rv, ok := normalizeObject(ev.Object)
			if !ok {
				d.logger.WithField("kind", t.kind).Debug("skipping malformed watch item")
				continue
			}
			if err := d.handler(ctx, NewWatchEvent(kind, taggedObject(t.kind, obj))); err != nil {
				return false, err
			}
			if rv != "" {
				t.lastResourceVersion = rv
			}
		}
	}
}

func watchKindFor(t watch.EventType) (WatchKind, bool) {
	switch t {
	case watch.Added:
		return WatchAdded, true
	case watch.Modified:
		return WatchModified, true
	case watch.Deleted:
		return WatchDeleted, true
	default:
		return "", false
	}
}

// normalizeObject abstracts the "duck-typed resource object" design note:
// anything JSON-marshalable (typed API object or already-decoded map) is
// accepted and flattened to a nested map, with its resource version (if any)
// extracted via the apimachinery meta accessor.
func normalizeObject(obj interface{}) (map[string]interface{}, string, bool) {
	rv := ""
	if accessor, err := meta.Accessor(obj); err == nil {
		rv = accessor.GetResourceVersion()
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, "", false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, "", false
	}
	return m, rv, true
}

func taggedObject(kind string, obj map[string]interface{}) map[string]interface{} {
	obj["kind"] = kind
	return obj
}

func isGoneError(err error) bool {
	return apierrors.IsResourceExpired(err) || apierrors.IsGone(err)
}

// isRecoverableTransport classifies DNS failures, refused connections, and
// other transport-class errors as recoverable, per the error taxonomy in
// SPEC_FULL.md §7 item 1.
func isRecoverableTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRecoverableTransport) {
		return true
	}
	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsServiceUnavailable(err) || apierrors.IsTooManyRequests(err) ||
		apierrors.IsUnexpectedServerError(err) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

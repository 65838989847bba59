package vessel

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"
	selfContainerd "github.com/deepfence/vessel-snapshot/containerd"
	"github.com/deepfence/vessel-snapshot/crio"
	"github.com/deepfence/vessel-snapshot/docker"
	"github.com/deepfence/vessel-snapshot/errdefs"
	selfPodman "github.com/deepfence/vessel-snapshot/podman"
	"github.com/deepfence/vessel-snapshot/utils"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func init() {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	logrus.SetFormatter(customFormatter)
	customFormatter.FullTimestamp = true
}

// detectionOrder breaks ties between runtimes that probe equally well.
var detectionOrder = []string{utils.DOCKER, utils.CONTAINERD, utils.CRIO, utils.PODMAN}

// GetAddressAndDialer returns the address parsed from the given endpoint and a context dialer.
func GetAddressAndDialer(endpoint string) (string, func(ctx context.Context, addr string) (net.Conn, error), error) {
	protocol, addr, err := parseEndpointWithFallbackProtocol(endpoint, utils.UnixProtocol)
	if err != nil {
		return "", nil, err
	}
	if protocol != utils.UnixProtocol {
		return "", nil, fmt.Errorf("only support unix socket endpoint")
	}

	return addr, dial, nil
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	return (&net.Dialer{}).DialContext(ctx, utils.UnixProtocol, addr)
}

func parseEndpointWithFallbackProtocol(endpoint string, fallbackProtocol string) (protocol string, addr string, err error) {
	if protocol, addr, err = parseEndpoint(endpoint); err != nil && protocol == "" {
		fallbackEndpoint := fallbackProtocol + "://" + endpoint
		protocol, addr, err = parseEndpoint(fallbackEndpoint)
		if err == nil {
			logrus.Warningf("Using %q as endpoint is deprecated, please consider using full url format %q.", endpoint, fallbackEndpoint)
		}
	}
	return
}

func parseEndpoint(endpoint string) (string, string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", err
	}

	switch u.Scheme {
	case "tcp":
		return "tcp", u.Host, nil

	case "unix":
		return "unix", u.Path, nil

	case "":
		return "", "", fmt.Errorf("using %q as endpoint is deprecated, please consider using full url format", endpoint)

	default:
		return u.Scheme, "", fmt.Errorf("protocol %q not supported", u.Scheme)
	}
}

func dialUnix(endPoint string) error {
	addr, _, err := GetAddressAndDialer(endPoint)
	if err != nil {
		return err
	}
	conn, err := net.DialTimeout(utils.UnixProtocol, addr, utils.Timeout)
	if err != nil {
		return errors.New("could not connect to endpoint '" + endPoint + "'")
	}
	return conn.Close()
}

func checkDockerRuntime(endPoint string) (bool, error) {
	if err := dialUnix(endPoint); err != nil {
		return false, err
	}
	rt, err := docker.New(endPoint)
	if err != nil {
		return false, err
	}
	defer rt.Close()
	return hasContainers(rt)
}

func checkPodmanRuntime(endPoint string) (bool, error) {
	return hasContainers(selfPodman.New(endPoint))
}

func checkContainerdRuntime(endPoint string) (bool, error) {
	addr, dialer, err := GetAddressAndDialer(endPoint)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), utils.Timeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock(), grpc.WithContextDialer(dialer))
	if err != nil {
		return false, errors.New("could not connect to endpoint '" + endPoint + "'")
	}
	conn.Close()
	return isContainerdRunning(addr)
}

func checkCrioRuntime(endPoint string) (bool, error) {
	if err := dialUnix(endPoint); err != nil {
		return false, err
	}
	return hasContainers(crio.New(endPoint))
}

func hasContainers(q Querier) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), utils.Timeout)
	defer cancel()
	containers, err := q.ListContainers(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "error listing %s containers", q.Name())
	}
	return len(containers) > 0, nil
}

// isContainerdRunning looks for containers in every namespace, not only the
// one configured for capture.
func isContainerdRunning(addr string) (bool, error) {
	clientd, err := containerd.New(addr, containerd.WithTimeout(utils.Timeout))
	if err != nil {
		return false, errors.Wrapf(err, " :error creating containerd client")
	}
	defer clientd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), utils.Timeout)
	defer cancel()
	list, err := clientd.NamespaceService().List(ctx)
	if err != nil {
		return false, errors.Wrapf(err, " :error listing containerd namespaces")
	}
	for _, l := range list {
		containers, err := clientd.Containers(namespaces.WithNamespace(ctx, l))
		if err != nil {
			return false, errors.Wrapf(err, " :error listing containerd containers")
		}
		if len(containers) > 0 {
			return true, nil
		}
	}
	return false, nil
}

type containerRuntime struct {
	Runtime   string
	Endpoint  string
	Connected bool
}

type probeFunc func(runtime, endPoint string) (bool, error)

func probe(runtime, endPoint string) (bool, error) {
	switch runtime {
	case utils.DOCKER:
		return checkDockerRuntime(endPoint)
	case utils.CONTAINERD:
		return checkContainerdRuntime(endPoint)
	case utils.CRIO:
		return checkCrioRuntime(endPoint)
	case utils.PODMAN:
		return checkPodmanRuntime(endPoint)
	default:
		return false, fmt.Errorf("unknown container runtime %s", runtime)
	}
}

// getContainerRuntime probes every known endpoint concurrently and returns the
// first runtime in detectionOrder that has containers, falling back to the
// first one that merely answered.
func getContainerRuntime(check probeFunc) (string, string) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	found := map[string]containerRuntime{}

	for runtime, endPoints := range utils.SupportedRuntimes {
		for _, endPoint := range endPoints {
			wg.Add(1)
			go func(runtime, endPoint string) {
				defer wg.Done()
				logrus.Debugf("trying to connect to endpoint '%s' with timeout '%s'", endPoint, utils.Timeout)
				connected, err := check(runtime, endPoint)
				if err != nil {
					logrus.Debug(err.Error())
					return
				}
				if connected {
					logrus.Infof("connected successfully to endpoint: %s", endPoint)
				}
				mu.Lock()
				defer mu.Unlock()
				if prev, ok := found[runtime]; ok && (prev.Connected || !connected) {
					return
				}
				found[runtime] = containerRuntime{Runtime: runtime, Endpoint: endPoint, Connected: connected}
			}(runtime, endPoint)
		}
	}
	wg.Wait()

	for _, runtime := range detectionOrder {
		if rt, ok := found[runtime]; ok && rt.Connected {
			return rt.Runtime, rt.Endpoint
		}
	}
	for _, runtime := range detectionOrder {
		if rt, ok := found[runtime]; ok {
			logrus.Infof("No running runtimes, selecting first detected runtime")
			return rt.Runtime, rt.Endpoint
		}
	}
	return "", ""
}

// AutoDetectRuntime auto detects the underlying container runtime like docker, containerd
func AutoDetectRuntime() (string, string, error) {
	runtime, endpoint := getContainerRuntime(probe)
	if runtime == "" {
		return "", "", errors.Wrap(errdefs.ErrRuntimeUnavailable, "could not detect container runtime")
	}
	logrus.Infof("container runtime detected: %s", runtime)
	return runtime, endpoint, nil
}

// Options selects the runtime backend. Runtime "auto" or empty triggers
// detection; an empty Endpoint uses the runtime's default socket.
type Options struct {
	Runtime   string
	Endpoint  string
	Namespace string
}

// NewRuntime returns the runtime backend selected by opts.
func NewRuntime(opts Options) (Runtime, error) {
	runtime := strings.ToLower(strings.TrimSpace(opts.Runtime))
	endpoint := opts.Endpoint
	if runtime == "" || runtime == utils.AUTO {
		detected, detectedEndpoint, err := AutoDetectRuntime()
		if err != nil {
			return nil, err
		}
		runtime = detected
		if endpoint == "" {
			endpoint = detectedEndpoint
		}
	}
	if _, ok := utils.SupportedRuntimes[runtime]; !ok {
		return nil, errors.Wrapf(errdefs.ErrUnsupportedRuntime, "%q", opts.Runtime)
	}
	if endpoint == "" {
		endpoint = utils.DefaultEndpoint(runtime)
	}
	logrus.Debugf("using %s runtime at %s", runtime, endpoint)

	switch runtime {
	case utils.DOCKER:
		rt, err := docker.New(endpoint)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case utils.CONTAINERD:
		rt, err := selfContainerd.New(endpoint, opts.Namespace)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case utils.CRIO:
		return crio.New(endpoint), nil
	default:
		return selfPodman.New(endpoint), nil
	}
}

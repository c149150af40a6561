package ec2

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prov "github.com/3cpo-dev/shardfleet/internal/providers"
)

type fakeAPI struct {
	pages        []*awsec2.DescribeInstancesOutput
	describeIn   []*awsec2.DescribeInstancesInput
	runIn        *awsec2.RunInstancesInput
	terminated   [][]string
	terminateErr error
	groups       []types.SecurityGroup
}

func (f *fakeAPI) DescribeInstances(ctx context.Context, in *awsec2.DescribeInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeInstancesOutput, error) {
	f.describeIn = append(f.describeIn, in)
	idx := len(f.describeIn) - 1
	if idx >= len(f.pages) {
		return &awsec2.DescribeInstancesOutput{}, nil
	}
	return f.pages[idx], nil
}

func (f *fakeAPI) RunInstances(ctx context.Context, in *awsec2.RunInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.RunInstancesOutput, error) {
	f.runIn = in
	out := &awsec2.RunInstancesOutput{ReservationId: aws.String("r-new")}
	for i := int32(0); i < aws.ToInt32(in.MaxCount); i++ {
		out.Instances = append(out.Instances, types.Instance{
			InstanceId: aws.String("i-new"),
			State:      &types.InstanceState{Name: types.InstanceStateNamePending},
		})
	}
	return out, nil
}

func (f *fakeAPI) TerminateInstances(ctx context.Context, in *awsec2.TerminateInstancesInput, _ ...func(*awsec2.Options)) (*awsec2.TerminateInstancesOutput, error) {
	f.terminated = append(f.terminated, in.InstanceIds)
	return &awsec2.TerminateInstancesOutput{}, f.terminateErr
}

func (f *fakeAPI) DescribeSecurityGroups(ctx context.Context, in *awsec2.DescribeSecurityGroupsInput, _ ...func(*awsec2.Options)) (*awsec2.DescribeSecurityGroupsOutput, error) {
	return &awsec2.DescribeSecurityGroupsOutput{SecurityGroups: f.groups}, nil
}

func instance(id, ip string, state types.InstanceStateName) types.Instance {
	inst := types.Instance{InstanceId: aws.String(id), State: &types.InstanceState{Name: state}}
	if ip != "" {
		inst.PublicIpAddress = aws.String(ip)
	}
	return inst
}

func TestListInstancesAcrossReservationsAndPages(t *testing.T) {
	api := &fakeAPI{pages: []*awsec2.DescribeInstancesOutput{
		{
			Reservations: []types.Reservation{{
				ReservationId: aws.String("r-1"),
				Instances: []types.Instance{
					instance("i-1", "10.0.0.1", types.InstanceStateNameRunning),
					instance("i-2", "", types.InstanceStateNamePending),
				},
			}},
			NextToken: aws.String("page-2"),
		},
		{
			Reservations: []types.Reservation{{
				ReservationId: aws.String("r-2"),
				Instances: []types.Instance{
					instance("i-3", "10.0.0.3", types.InstanceStateNameShuttingDown),
					instance("i-4", "", types.InstanceStateNameTerminated),
				},
			}},
		},
	}}
	p := NewWithAPI(api, prov.Config{})

	records, err := p.ListInstances(context.Background(), "primes")
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, prov.InstanceRecord{ID: "i-1", Address: "10.0.0.1", State: prov.StateRunning, Group: "r-1"}, records[0])
	assert.Equal(t, prov.StatePending, records[1].State)
	assert.Empty(t, records[1].Address)
	assert.Equal(t, prov.StateOther, records[2].State)
	assert.Equal(t, "r-2", records[2].Group)
	assert.Equal(t, prov.StateTerminated, records[3].State)

	require.Len(t, api.describeIn, 2)
	filter := api.describeIn[0].Filters[0]
	assert.Equal(t, "tag:cluster-name", aws.ToString(filter.Name))
	assert.Equal(t, []string{"primes"}, filter.Values)
}

func TestCreateInstancesRequestsTaggedSpot(t *testing.T) {
	api := &fakeAPI{}
	p := NewWithAPI(api, prov.Config{})

	records, err := p.CreateInstances(context.Background(), prov.CreateRequest{Fleet: "primes", Count: 3, KeyName: "ops"})
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, "r-new", records[0].Group)

	in := api.runIn
	require.NotNil(t, in)
	assert.Equal(t, DefaultAMI, aws.ToString(in.ImageId))
	assert.Equal(t, types.InstanceType(DefaultInstanceType), in.InstanceType)
	assert.Equal(t, types.MarketTypeSpot, in.InstanceMarketOptions.MarketType)
	assert.Equal(t, DefaultSpotPrice, aws.ToString(in.InstanceMarketOptions.SpotOptions.MaxPrice))
	assert.Equal(t, "primes", aws.ToString(in.TagSpecifications[0].Tags[0].Value))
	assert.True(t, aws.ToBool(in.NetworkInterfaces[0].AssociatePublicIpAddress))
}

func TestCreateInstancesNeedsKeyPair(t *testing.T) {
	p := NewWithAPI(&fakeAPI{}, prov.Config{})
	_, err := p.CreateInstances(context.Background(), prov.CreateRequest{Fleet: "primes", Count: 1})
	var ve prov.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "key", ve.Field)
}

func TestTerminateInstancesTreatsNotFoundAsDone(t *testing.T) {
	api := &fakeAPI{terminateErr: &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "gone"}}
	p := NewWithAPI(api, prov.Config{})
	require.NoError(t, p.TerminateInstances(context.Background(), []string{"i-1"}))

	api.terminateErr = &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "denied"}
	err := p.TerminateInstances(context.Background(), []string{"i-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnauthorizedOperation")

	require.NoError(t, p.TerminateInstances(context.Background(), nil))
	assert.Len(t, api.terminated, 2)
}

func TestDiagnoseSecurityGroup(t *testing.T) {
	api := &fakeAPI{groups: []types.SecurityGroup{
		{
			GroupName: aws.String("default"),
			GroupId:   aws.String("sg-1"),
			IpPermissions: []types.IpPermission{{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(22),
				ToPort:     aws.Int32(22),
				IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			}},
		},
		{
			GroupName: aws.String("web"),
			GroupId:   aws.String("sg-2"),
			IpPermissions: []types.IpPermission{{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(443),
				ToPort:     aws.Int32(443),
				IpRanges:   []types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			}},
		},
	}}
	p := NewWithAPI(api, prov.Config{})
	findings, err := p.Diagnose(context.Background(), "primes")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.True(t, findings[0].OK)
	assert.Contains(t, findings[0].Detail, "0.0.0.0/0")
	assert.False(t, findings[1].OK)
}

package sqlinline

// Columns of generation_jobs in scan order; see repo.scanJob.
const generationJobColumns = `id::text, user_id, document_id, status, params_json, total_chunks, processed_chunks, estimated_time_seconds, error_message, result_quiz_ids, billing_state, billing_reservation_id, billing_estimated_tokens, billing_committed_tokens, actual_tokens, was_capped_at_reserved, input_prompt_tokens, reservation_expires_at, billing_idempotency_keys, has_started_ai_calls, last_billing_error, created_at, updated_at, completed_at`

const QInsertGenerationJob = `--sql 5c2288a3-3cdb-440d-acea-14df7aa4908c
insert into generation_jobs(
    id, user_id, document_id, status, params_json, total_chunks, processed_chunks,
    estimated_time_seconds, error_message, result_quiz_ids, billing_state,
    billing_reservation_id, billing_estimated_tokens, billing_committed_tokens,
    actual_tokens, was_capped_at_reserved, input_prompt_tokens, reservation_expires_at,
    billing_idempotency_keys, has_started_ai_calls, last_billing_error,
    created_at, updated_at, completed_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, $5::jsonb, $6::int, $7::int,
    $8::int, $9::text, $10::jsonb, $11::text,
    nullif($12::text, ''), $13::bigint, $14::bigint,
    $15::bigint, $16::boolean, $17::bigint, $18::timestamptz,
    coalesce($19::jsonb, '{}'::jsonb), $20::boolean, $21::text,
    $22::timestamptz, $23::timestamptz, $24::timestamptz
);
`

const QSelectGenerationJob = `--sql daa4d0b7-af2e-49f5-ac77-53e72ac11cd1
select ` + generationJobColumns + `
from generation_jobs
where id = $1::uuid;
`

const QSelectGenerationJobForUpdate = `--sql 790d40e6-ea67-4257-9901-3cd5fecd92c7
select ` + generationJobColumns + `
from generation_jobs
where id = $1::uuid
for no key update;
`

const QUpdateGenerationJob = `--sql 882f3004-ccbf-4450-8c25-c438a0143ae1
update generation_jobs
set status = $2::text,
    processed_chunks = $3::int,
    error_message = $4::text,
    result_quiz_ids = $5::jsonb,
    billing_state = $6::text,
    billing_committed_tokens = $7::bigint,
    actual_tokens = $8::bigint,
    was_capped_at_reserved = $9::boolean,
    input_prompt_tokens = $10::bigint,
    billing_idempotency_keys = coalesce($11::jsonb, '{}'::jsonb),
    has_started_ai_calls = $12::boolean,
    last_billing_error = $13::text,
    updated_at = $14::timestamptz,
    completed_at = $15::timestamptz
where id = $1::uuid;
`

const QClaimNextPendingJob = `--sql 2ddc863b-7f6e-4483-b9dc-44dd5c6e008a
with next_job as (
    select id
    from generation_jobs
    where status = 'PENDING'
      and created_at <= $1::timestamptz
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update generation_jobs
    set status = 'PROCESSING', updated_at = now()
    where id in (select id from next_job)
    returning ` + generationJobColumns + `
)
select * from updated;
`

const QListBillingStuckJobs = `--sql e809eac4-0494-4751-83d7-29799f39674a
select ` + generationJobColumns + `
from generation_jobs
where status in ('COMPLETED', 'FAILED', 'CANCELLED')
  and (billing_state = 'RESERVED' or (billing_state = 'COMMITTED' and last_billing_error <> ''))
order by updated_at asc
limit $1::int;
`

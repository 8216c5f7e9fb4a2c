package sqlinline

const QInsertQuiz = `--sql d0d887fc-adf5-4084-bc6f-9141b2dc51e2
insert into quizzes(id, job_id, user_id, document_id, title, chunk_index, difficulty, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::int, $7::text, $8::timestamptz);
`

const QInsertQuizQuestion = `--sql 3af66912-51f0-4d3d-8f35-28054be7c116
insert into quiz_questions(id, quiz_id, position, type, difficulty, text, options, answers, explanation, chunk_index)
values (gen_random_uuid(), $1::uuid, $2::int, $3::text, $4::text, $5::text, $6::jsonb, $7::jsonb, $8::text, $9::int);
`
